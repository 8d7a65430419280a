package questionnaire

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeCatalog struct {
	versions        map[string]*domain.QuestionnaireVersion
	deactivateCalls int
	createVersions  int
	measures        int
	submeasures     int
	controls        int
	mappings        int
	requirements    int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{versions: map[string]*domain.QuestionnaireVersion{}}
}

func (f *fakeCatalog) VersionByHash(_ context.Context, hash string) (*domain.QuestionnaireVersion, error) {
	return f.versions[hash], nil
}
func (f *fakeCatalog) BeginTx(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }
func (f *fakeCatalog) DeactivateAllVersions(context.Context, pgx.Tx) error {
	f.deactivateCalls++
	for _, v := range f.versions {
		v.Active = false
	}
	return nil
}
func (f *fakeCatalog) CreateVersion(_ context.Context, _ pgx.Tx, v *domain.QuestionnaireVersion) error {
	f.createVersions++
	v.ID = uuid.New()
	v.Active = true
	f.versions[v.ContentHash] = v
	return nil
}
func (f *fakeCatalog) CreateMeasure(_ context.Context, _ pgx.Tx, m *domain.Measure) error {
	f.measures++
	m.ID = uuid.New()
	return nil
}
func (f *fakeCatalog) CreateSubmeasure(_ context.Context, _ pgx.Tx, sm *domain.Submeasure) error {
	f.submeasures++
	sm.ID = uuid.New()
	return nil
}
func (f *fakeCatalog) UpsertControl(_ context.Context, _ pgx.Tx, c *domain.Control) error {
	f.controls++
	c.ID = uuid.New()
	return nil
}
func (f *fakeCatalog) CreateMapping(context.Context, pgx.Tx, domain.ControlSubmeasureMapping) error {
	f.mappings++
	return nil
}
func (f *fakeCatalog) CreateRequirement(context.Context, pgx.Tx, domain.ControlRequirement) error {
	f.requirements++
	return nil
}

type fakeAudit struct{ entries []domain.AuditLog }

func (f *fakeAudit) Append(_ context.Context, _ pgx.Tx, entry domain.AuditLog) error {
	f.entries = append(f.entries, entry)
	return nil
}

func sampleQuestionnaire() *Questionnaire {
	minScore := 2.0
	return &Questionnaire{
		Measures: []ParsedMeasure{
			{
				Code: "1", Name: "Measure one", OrderIndex: 1,
				Submeasures: []*ParsedSubmeasure{
					{
						Code: "1", Name: "Submeasure one", OrderIndex: 1,
						Controls: []ParsedControlRef{{Code: "POL-001", OrderIndex: 1}},
					},
				},
			},
		},
		Controls: map[string]*ParsedControl{
			"POL-001": {
				Code: "POL-001", Name: "Policy control",
				Requirements: []Requirement{{Level: domain.LevelOsnovna, IsMandatory: true, IsApplicable: true, MinimumScore: &minScore}},
			},
		},
	}
}

func TestImport_CreatesNewVersionWhenNoneExists(t *testing.T) {
	catalog := newFakeCatalog()
	audit := &fakeAudit{}
	imp := NewImporter(catalog, audit)

	result, err := imp.Import(context.Background(), sampleQuestionnaire(), "v1", uuid.New(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Imported {
		t.Fatal("expected a fresh import to report Imported=true")
	}
	if catalog.createVersions != 1 || catalog.measures != 1 || catalog.submeasures != 1 || catalog.controls != 1 || catalog.mappings != 1 || catalog.requirements != 1 {
		t.Fatalf("unexpected write counts: %+v", catalog)
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != "questionnaire_imported" {
		t.Fatalf("expected one import audit entry, got %+v", audit.entries)
	}
}

func TestImport_IdenticalHashIsNoOpWithoutForce(t *testing.T) {
	catalog := newFakeCatalog()
	audit := &fakeAudit{}
	imp := NewImporter(catalog, audit)
	q := sampleQuestionnaire()

	if _, err := imp.Import(context.Background(), q, "v1", uuid.New(), false); err != nil {
		t.Fatalf("unexpected error on first import: %v", err)
	}
	result, err := imp.Import(context.Background(), q, "v1-again", uuid.New(), false)
	if err != nil {
		t.Fatalf("unexpected error on second import: %v", err)
	}
	if result.Imported {
		t.Fatal("expected identical content hash to be a no-op")
	}
	if catalog.createVersions != 1 {
		t.Fatalf("expected no second version to be created, got %d", catalog.createVersions)
	}
}

func TestImport_ForceReimportsIdenticalContentAndDeactivatesPrevious(t *testing.T) {
	catalog := newFakeCatalog()
	audit := &fakeAudit{}
	imp := NewImporter(catalog, audit)
	q := sampleQuestionnaire()

	first, err := imp.Import(context.Background(), q, "v1", uuid.New(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := imp.Import(context.Background(), q, "v2", uuid.New(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Imported {
		t.Fatal("expected forced reimport to report Imported=true")
	}
	if catalog.createVersions != 2 {
		t.Fatalf("expected a second version to be created, got %d", catalog.createVersions)
	}
	if first.Version.ID == second.Version.ID {
		t.Fatal("expected a distinct version id on forced reimport")
	}
	if catalog.deactivateCalls != 2 {
		t.Fatalf("expected DeactivateAllVersions to run once per import, got %d", catalog.deactivateCalls)
	}
}

func TestImport_ChangedContentCreatesNewVersionWithoutForce(t *testing.T) {
	catalog := newFakeCatalog()
	audit := &fakeAudit{}
	imp := NewImporter(catalog, audit)

	if _, err := imp.Import(context.Background(), sampleQuestionnaire(), "v1", uuid.New(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	changed := sampleQuestionnaire()
	changed.Controls["POL-001"].Name = "Policy control, revised"

	result, err := imp.Import(context.Background(), changed, "v2", uuid.New(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Imported {
		t.Fatal("changed content should never be treated as a no-op")
	}
	if catalog.createVersions != 2 {
		t.Fatalf("expected 2 versions created, got %d", catalog.createVersions)
	}
}

func TestContentHash_IsOrderIndependent(t *testing.T) {
	a := sampleQuestionnaire()
	b := sampleQuestionnaire()
	for _, q := range []*Questionnaire{a, b} {
		q.Controls["POL-002"] = &ParsedControl{Code: "POL-002", Name: "Second policy control"}
		sub := q.Measures[0].Submeasures[0]
		sub.Controls = append(sub.Controls, ParsedControlRef{Code: "POL-002", OrderIndex: 2})
	}
	// Reverse submeasure control order in b; canonicalize should sort it back.
	refs := b.Measures[0].Submeasures[0].Controls
	b.Measures[0].Submeasures[0].Controls = []ParsedControlRef{refs[1], refs[0]}
	if ContentHash(a) != ContentHash(b) {
		t.Fatal("expected identical questionnaires to hash identically regardless of construction order")
	}
}
