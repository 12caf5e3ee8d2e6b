// Package export writes the manual-annotation workbook.
package export

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/xuri/excelize/v2"

	"github.com/yourorg/capgen/internal/checker"
	"github.com/yourorg/capgen/pkg/types"
)

// Sheet names.
const (
	SheetUtterances = "Utterances"
	SheetViolations = "Violations"
)

// AnnotationColumns are left blank for human reviewers.
var AnnotationColumns = []string{
	"REQUIRED PARAMETERS",
	"VALUES",
	"FORMAT",
	"ID",
	"TECHNICAL",
	"INTER-DEPENDENCY",
	"SEMANTIC RELEVANT",
}

var utteranceHeaders = append([]string{
	"utterance index", "endpoint index", "API name", "API method name", "utterance", "parameters",
}, AnnotationColumns...)

var violationHeaders = []string{"tool", "API method name", "utterance index", "utterance", "category", "parameter", "rule", "detail"}

var paramCodec = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

// Workbook accumulates rows across tools; indices run across the whole workbook.
type Workbook struct {
	f         *excelize.File
	header    int
	uttRow    int
	violRow   int
	utterance int
	endpoint  int
}

// NewWorkbook creates the two sheets with styled, frozen header rows.
func NewWorkbook() (*Workbook, error) {
	f := excelize.NewFile()
	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#000000"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return nil, err
	}
	w := &Workbook{f: f, header: header, uttRow: 2, violRow: 2}
	for _, sheet := range []struct {
		name    string
		headers []string
	}{{SheetUtterances, utteranceHeaders}, {SheetViolations, violationHeaders}} {
		if _, err := f.NewSheet(sheet.name); err != nil {
			return nil, err
		}
		if err := w.writeRow(sheet.name, 1, toAny(sheet.headers), header); err != nil {
			return nil, err
		}
		if err := f.SetPanes(sheet.name, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(SheetUtterances, "E", "F", 60); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(SheetViolations, "D", "D", 60); err != nil {
		return nil, err
	}
	if idx, err := f.GetSheetIndex("Sheet1"); err == nil && idx != -1 {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return nil, err
		}
	}
	if idx, err := f.GetSheetIndex(SheetUtterances); err == nil {
		f.SetActiveSheet(idx)
	}
	return w, nil
}

// AddTool appends one row per utterance of tool. Methods without usable
// utterances still advance the endpoint index.
func (w *Workbook) AddTool(tool *types.ToolSpec) error {
	if tool == nil {
		return errors.New("tool is nil")
	}
	for _, m := range tool.Methods {
		w.endpoint++
		if !m.Utterances.Usable() {
			continue
		}
		for _, u := range m.Utterances.Items {
			w.utterance++
			params, err := paramCodec.MarshalToString(u.Parameters)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", tool.Name, m.Name, err)
			}
			row := []any{w.utterance, w.endpoint, tool.Name, m.Name, u.Utterance, params}
			for range AnnotationColumns {
				row = append(row, "")
			}
			if err := w.writeRow(SheetUtterances, w.uttRow, row, 0); err != nil {
				return err
			}
			w.uttRow++
		}
	}
	return nil
}

// AddViolations appends the checker's detail records for one tool.
func (w *Workbook) AddViolations(tool string, vs []checker.Violation) error {
	for _, v := range vs {
		row := []any{tool, v.Method, v.Utterance + 1, v.Text, string(v.Category), v.Param, v.Rule, v.Detail}
		if err := w.writeRow(SheetViolations, w.violRow, row, 0); err != nil {
			return err
		}
		w.violRow++
	}
	return nil
}

// Rows reports how many utterance and violation rows were written.
func (w *Workbook) Rows() (int, int) {
	return w.uttRow - 2, w.violRow - 2
}

func (w *Workbook) SaveAs(path string) error {
	return w.f.SaveAs(path)
}

func (w *Workbook) Close() error {
	return w.f.Close()
}

func (w *Workbook) writeRow(sheet string, row int, values []any, style int) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		return err
	}
	if style == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(values), row)
	if err != nil {
		return err
	}
	return w.f.SetCellStyle(sheet, cell, last, style)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
