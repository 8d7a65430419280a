// Package questionnaire implements the canonical-spreadsheet import path
// from §6: parsing the ZKS/NIS2 questionnaire workbook (one sheet per
// security level) into the measure/submeasure/control catalog, and
// versioning the result by content hash. Grounded on
// original_source/backend/app/parsers/excel_parser_updated.py's column
// layout and per-sheet walk (the importer.go sibling in original_source is
// the obsolete 1:N predecessor; this package targets catalogstore's M:N
// control_submeasure_mappings schema instead, per §3's invariant that the
// mapping is the only path from a control to its submeasure context). Uses
// github.com/xuri/excelize/v2 for the spreadsheet read, the library this
// pack's own report-writing code (src/reporting/formats/excel.go) already
// depends on.
package questionnaire

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/zks-samoprocjena/compliance-engine/internal/domain"
)

// ControlCodePattern is the §3 control-id shape a parsed control's code must
// match to be imported; codes that don't match are skipped, since they could
// never be reached by C5's control-ID Tier-1 mode or C2's chunk extraction.
var ControlCodePattern = regexp.MustCompile(`^[A-Z]{3,4}-\d{3}$`)

// securitySheets is the fixed set of sheet names the workbook carries, one
// per security level, in the order original_source's parser walks them.
var securitySheets = []struct {
	Sheet string
	Level domain.SecurityLevel
}{
	{"OSNOVNA", domain.LevelOsnovna},
	{"SREDNJA", domain.LevelSrednja},
	{"NAPREDNA", domain.LevelNapredna},
}

// mandatoryMapping mirrors MANDATORY_MAPPING: the Croatian obligation labels
// the OBVEZNOST column carries, reduced to a boolean.
var mandatoryMapping = map[string]bool{
	"OBVEZNO":                true,
	"DOBROVOLJNO":            false,
	"OBVEZUJUĆE POD UVJETOM": true,
}

// Requirement is one security level's applicability record for a control
// within a submeasure.
type Requirement struct {
	Level        domain.SecurityLevel
	IsMandatory  bool
	IsApplicable bool
	MinimumScore *float64
}

// ParsedControl is a control as encountered in the workbook, deduplicated by
// code across sheets and submeasures (a code can recur under many
// submeasures; each recurrence contributes at most one Requirement per
// level, matching the Python parser's existing_req dedup check).
type ParsedControl struct {
	Code         string
	Name         string
	Requirements []Requirement
}

// ParsedControlRef is a control's appearance within one submeasure, carrying
// the display order_index the mapping table persists (§3).
type ParsedControlRef struct {
	Code       string
	OrderIndex int
}

// ParsedSubmeasure is one submeasure with its ordered control references.
type ParsedSubmeasure struct {
	Code       string
	Name       string
	OrderIndex int
	Controls   []ParsedControlRef
}

// ParsedMeasure is one measure with its ordered submeasures. Submeasures are
// held by pointer so a map keyed the same way (submeasuresByKey, shared
// across the three per-level sheet passes) keeps referencing the same
// instance even as sibling submeasures are appended to this slice.
type ParsedMeasure struct {
	Code        string
	Name        string
	OrderIndex  int
	Submeasures []*ParsedSubmeasure
}

// Questionnaire is the full parsed catalog: measures (which nest
// submeasures, which nest control references) plus the deduplicated control
// table every reference above points into.
type Questionnaire struct {
	Measures []ParsedMeasure
	Controls map[string]*ParsedControl // keyed by control code
}

// Parse reads a workbook from raw bytes and returns the merged catalog
// across all three security-level sheets.
func Parse(data []byte) (*Questionnaire, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("questionnaire: open workbook: %w", err)
	}
	defer f.Close()

	measuresByCode := map[string]*ParsedMeasure{}
	submeasuresByKey := map[string]*ParsedSubmeasure{}
	controls := map[string]*ParsedControl{}
	var measureOrder []string

	for _, sheet := range securitySheets {
		rows, err := f.GetRows(sheet.Sheet)
		if err != nil {
			// A workbook need not carry every level; a missing sheet just
			// contributes nothing for that level.
			continue
		}
		parseSheet(rows, sheet.Level, measuresByCode, &measureOrder, submeasuresByKey, controls)
	}

	q := &Questionnaire{Controls: controls}
	for _, code := range measureOrder {
		q.Measures = append(q.Measures, *measuresByCode[code])
	}
	if len(q.Measures) == 0 {
		return nil, fmt.Errorf("questionnaire: no security-level sheets (OSNOVNA/SREDNJA/NAPREDNA) found")
	}
	return q, nil
}

func parseSheet(
	rows [][]string,
	level domain.SecurityLevel,
	measuresByCode map[string]*ParsedMeasure,
	measureOrder *[]string,
	submeasuresByKey map[string]*ParsedSubmeasure,
	controls map[string]*ParsedControl,
) {
	var currentMeasure *ParsedMeasure
	var currentSubmeasure *ParsedSubmeasure
	controlOrder := 0

	// Row 1 is the header; data starts at row 2 (index 1).
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		cell := func(idx int) string {
			if idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}

		measureNum := cell(0)
		measureName := cell(1)
		submeasureNum := cell(2)
		submeasureDesc := cell(3)
		obligatory := cell(4)
		evaluated := cell(5)
		controlDesc := cell(6)
		minScoreCell := cell(7)

		if measureNum != "" && measureName != "" {
			if n, err := strconv.ParseFloat(strings.ReplaceAll(measureNum, ",", "."), 64); err == nil && n > 0 && n < 20 {
				code := strconv.Itoa(int(n))
				m, ok := measuresByCode[code]
				if !ok {
					m = &ParsedMeasure{Code: code, Name: measureName, OrderIndex: int(n)}
					measuresByCode[code] = m
					*measureOrder = append(*measureOrder, code)
				}
				currentMeasure = m
			}
		}

		if submeasureNum != "" && submeasureDesc != "" && currentMeasure != nil {
			key := currentMeasure.Code + "." + submeasureNum
			sm, ok := submeasuresByKey[key]
			if !ok {
				orderIdx, _ := strconv.ParseFloat(strings.ReplaceAll(submeasureNum, ",", "."), 64)
				name := submeasureDesc
				if len(name) > 100 {
					name = name[:100]
				}
				sm = &ParsedSubmeasure{Code: submeasureNum, Name: name, OrderIndex: int(orderIdx)}
				currentMeasure.Submeasures = append(currentMeasure.Submeasures, sm)
				submeasuresByKey[key] = sm
			}
			currentSubmeasure = sm
			controlOrder = 0
		}

		if controlDesc != "" && currentSubmeasure != nil {
			parts := strings.SplitN(controlDesc, ":", 2)
			if len(parts) != 2 {
				continue
			}
			code := strings.TrimSpace(parts[0])
			name := strings.TrimSpace(parts[1])
			if !ControlCodePattern.MatchString(code) {
				continue
			}

			isApplicable := evaluated == "" || strings.EqualFold(evaluated, "DA")
			isMandatory := mandatoryMapping[strings.ToUpper(obligatory)]

			var minScore *float64
			if minScoreCell != "" {
				if v, err := strconv.ParseFloat(strings.ReplaceAll(minScoreCell, ",", "."), 64); err == nil {
					minScore = &v
				}
			}

			req := Requirement{Level: level, IsMandatory: isMandatory, IsApplicable: isApplicable, MinimumScore: minScore}

			ctrl, ok := controls[code]
			if !ok {
				ctrl = &ParsedControl{Code: code, Name: name}
				controls[code] = ctrl
			}
			hasLevel := false
			for _, r := range ctrl.Requirements {
				if r.Level == level {
					hasLevel = true
					break
				}
			}
			if !hasLevel {
				ctrl.Requirements = append(ctrl.Requirements, req)
			}

			alreadyLinked := false
			for _, ref := range currentSubmeasure.Controls {
				if ref.Code == code {
					alreadyLinked = true
					break
				}
			}
			if !alreadyLinked {
				controlOrder++
				currentSubmeasure.Controls = append(currentSubmeasure.Controls, ParsedControlRef{Code: code, OrderIndex: controlOrder})
			}
		}
	}
}
