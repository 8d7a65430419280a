package questionnaire

import (
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

// buildWorkbook writes a minimal OSNOVNA/SREDNJA sheet pair matching the
// eight-column layout parseSheet expects, then returns the serialized bytes
// Parse consumes.
func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	header := []string{"measure_num", "measure_name", "submeasure_num", "submeasure_desc", "obligatory", "evaluated", "control_desc", "minimum_score"}

	writeSheet := func(name string, rows [][]string) {
		idx, _ := f.NewSheet(name)
		for col, h := range header {
			cell, _ := excelize.CoordinatesToCellName(col+1, 1)
			f.SetCellValue(name, cell, h)
		}
		for r, row := range rows {
			for c, v := range row {
				cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
				f.SetCellValue(name, cell, v)
			}
		}
		_ = idx
	}

	writeSheet("OSNOVNA", [][]string{
		{"1", "Upravljanje sigurnošću", "1", "Politike sigurnosti", "OBVEZNO", "DA", "POL-001: Donesena politika informacijske sigurnosti", "2.0"},
		{"", "", "", "", "OBVEZNO", "DA", "POL-002: Politika se redovito ažurira", ""},
		{"1", "Upravljanje sigurnošću", "2", "Organizacija sigurnosti", "DOBROVOLJNO", "NE", "ORG-001: Imenovan službenik za sigurnost", ""},
	})
	writeSheet("SREDNJA", [][]string{
		{"1", "Upravljanje sigurnošću", "1", "Politike sigurnosti", "OBVEZNO", "DA", "POL-001: Donesena politika informacijske sigurnosti", "2.5"},
	})

	f.DeleteSheet("Sheet1")

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestParse_BuildsMeasureSubmeasureControlTree(t *testing.T) {
	q, err := Parse(buildWorkbook(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(q.Measures) != 1 {
		t.Fatalf("expected 1 measure, got %d", len(q.Measures))
	}
	measure := q.Measures[0]
	if measure.Code != "1" || len(measure.Submeasures) != 2 {
		t.Fatalf("unexpected measure shape: %+v", measure)
	}

	sub1 := measure.Submeasures[0]
	if len(sub1.Controls) != 2 {
		t.Fatalf("expected 2 distinct controls linked to submeasure 1, got %d", len(sub1.Controls))
	}
	if sub1.Controls[0].OrderIndex != 1 || sub1.Controls[1].OrderIndex != 2 {
		t.Fatalf("expected per-submeasure order index 1,2, got %d,%d", sub1.Controls[0].OrderIndex, sub1.Controls[1].OrderIndex)
	}
}

func TestParse_DedupesControlAcrossLevelsAndAddsRequirementPerLevel(t *testing.T) {
	q, err := Parse(buildWorkbook(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctrl, ok := q.Controls["POL-001"]
	if !ok {
		t.Fatal("expected POL-001 to be present")
	}
	if len(ctrl.Requirements) != 2 {
		t.Fatalf("expected requirements for both OSNOVNA and SREDNJA, got %d", len(ctrl.Requirements))
	}

	var sawOsnovna, sawSrednja bool
	for _, r := range ctrl.Requirements {
		if r.Level == domain.LevelOsnovna {
			sawOsnovna = true
			if r.MinimumScore == nil || *r.MinimumScore != 2.0 {
				t.Fatalf("expected minimum_score 2.0 for OSNOVNA, got %+v", r.MinimumScore)
			}
		}
		if r.Level == domain.LevelSrednja {
			sawSrednja = true
		}
	}
	if !sawOsnovna || !sawSrednja {
		t.Fatal("expected requirements recorded for both levels")
	}
}

func TestParse_SkipsControlsWithMalformedCode(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "OSNOVNA"
	idx, _ := f.NewSheet(sheet)
	rows := [][]string{
		{"measure_num", "measure_name", "submeasure_num", "submeasure_desc", "obligatory", "evaluated", "control_desc", "minimum_score"},
		{"1", "Measure", "1", "Sub", "OBVEZNO", "DA", "not-a-valid-code without colon", ""},
		{"1", "Measure", "1", "Sub", "OBVEZNO", "DA", "bad_code: missing dash pattern", ""},
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			f.SetCellValue(sheet, cell, v)
		}
	}
	f.DeleteSheet("Sheet1")
	_ = idx

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	q, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.Controls) != 0 {
		t.Fatalf("expected no controls parsed from malformed codes, got %d", len(q.Controls))
	}
}

func TestParse_ErrorsWhenNoSecurityLevelSheetsPresent(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	if _, err := Parse(buf.Bytes()); err == nil {
		t.Fatal("expected an error for a workbook with no recognized sheets")
	}
}
