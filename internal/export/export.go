// Package export writes batch reports as Excel workbooks, JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/a3tai/pdf-doc-classifier/internal/batch"
	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/xuri/excelize/v2"
)

// Format identifies an export file format
type Format string

const (
	FormatExcel Format = "excel"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
)

// Sheet names of the Excel workbook
const (
	SheetSummary  = "Resumen"
	SheetDetailed = "Detallado"
	SheetMethods  = "Métodos"
)

// ErrUnsupportedFormat is returned for unknown export extensions
var ErrUnsupportedFormat = errors.New("unsupported export format")

// UTF-8 BOM so spreadsheet tools detect the CSV encoding
var bom = []byte{0xEF, 0xBB, 0xBF}

var detailColumns = []string{
	"documento_id",
	"archivo",
	"ruta",
	"estado",
	"tipo",
	"confianza",
	"proveedor_id",
	"cuit",
	"cuit_valido",
	"fecha_documento",
	"monto",
	"numero_documento",
	"razonamiento",
	"error",
	"duracion_ms",
}

var methodColumns = []string{
	"documento_id",
	"archivo",
	"metodo",
	"tipo_predicho",
	"confianza",
	"peso",
	"contribucion",
	"error",
	"tipo_final",
	"confianza_final",
}

// FormatFromPath picks the format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return FormatExcel, nil
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
}

// WriteFile exports report to path in the format implied by its extension
func WriteFile(path string, report *batch.Report) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Write(f, format, report); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write exports report to w
func Write(w io.Writer, format Format, report *batch.Report) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}
	switch format {
	case FormatExcel:
		return WriteExcel(w, report)
	case FormatJSON:
		return WriteJSON(w, report)
	case FormatCSV:
		return WriteCSV(w, report)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// Statistics summarizes the exported documents
type Statistics struct {
	TotalDocuments    int                               `json:"total_documentos"`
	Classified        int                               `json:"clasificados"`
	Failed            int                               `json:"fallidos"`
	TimedOut          int                               `json:"tiempo_agotado"`
	AverageConfidence float64                           `json:"confianza_promedio"`
	DocumentTypes     int                               `json:"tipos_documento"`
	UniqueSuppliers   int                               `json:"proveedores_unicos"`
	MostCommonType    string                            `json:"tipo_mas_comun"`
	CountByType       map[intelligence.DocumentType]int `json:"conteo_por_tipo"`
}

// ComputeStatistics derives export statistics from a report
func ComputeStatistics(report *batch.Report) Statistics {
	st := Statistics{
		TotalDocuments: len(report.Results),
		Classified:     report.Summary.Succeeded,
		Failed:         report.Summary.Failed,
		TimedOut:       report.Summary.TimedOut,
		CountByType:    make(map[intelligence.DocumentType]int),
		MostCommonType: "N/A",
	}

	suppliers := make(map[string]bool)
	sum := 0.0
	for _, r := range report.Results {
		st.CountByType[r.Type()]++
		sum += r.Confidence()
		if r.Classification != nil && r.Classification.Supplier != nil {
			suppliers[r.Classification.Supplier.ID] = true
		}
	}
	if st.TotalDocuments > 0 {
		st.AverageConfidence = round3(sum / float64(st.TotalDocuments))
	}
	st.DocumentTypes = len(st.CountByType)
	st.UniqueSuppliers = len(suppliers)

	best := 0
	for _, dt := range sortedTypes(st.CountByType) {
		if n := st.CountByType[dt]; n > best {
			best = n
			st.MostCommonType = string(dt)
		}
	}
	return st
}

// WriteExcel writes the Resumen, Detallado and Métodos sheets
func WriteExcel(w io.Writer, report *batch.Report) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetDetailed, SheetMethods} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSummarySheet(f, report, header); err != nil {
		return err
	}
	if err := writeRows(f, SheetDetailed, detailColumns, detailRows(report), header); err != nil {
		return err
	}
	if err := writeRows(f, SheetMethods, methodColumns, methodRows(report), header); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSummarySheet(f *excelize.File, report *batch.Report, header int) error {
	st := ComputeStatistics(report)
	s := report.Summary

	rows := [][]any{
		{"lote_id", s.BatchID},
		{"directorio", s.Directory},
		{"inicio", s.StartedAt.Format(time.RFC3339)},
		{"fin", s.FinishedAt.Format(time.RFC3339)},
		{"duracion_ms", s.ElapsedMS},
		{"total_documentos", st.TotalDocuments},
		{"clasificados", st.Classified},
		{"fallidos", st.Failed},
		{"tiempo_agotado", st.TimedOut},
		{"confianza_promedio", st.AverageConfidence},
		{"tipos_documento", st.DocumentTypes},
		{"proveedores_unicos", st.UniqueSuppliers},
		{"tipo_mas_comun", st.MostCommonType},
	}
	for _, dt := range sortedTypes(st.CountByType) {
		rows = append(rows, []any{"count_" + string(dt), st.CountByType[dt]})
	}
	return writeRows(f, SheetSummary, []string{"metrica", "valor"}, rows, header)
}

func writeRows(f *excelize.File, sheet string, columns []string, rows [][]any, header int) error {
	head := make([]any, len(columns))
	for i, c := range columns {
		head[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}

func detailRows(report *batch.Report) [][]any {
	rows := make([][]any, 0, len(report.Results))
	for _, r := range report.Results {
		var supplier, reasoning string
		if r.Classification != nil {
			reasoning = r.Classification.Reasoning
			if r.Classification.Supplier != nil {
				supplier = r.Classification.Supplier.ID
			}
		}
		var cuit, date, amount, number string
		cuitValid := false
		if md := r.Metadata; md != nil {
			cuit, cuitValid, number = md.CUIT, md.CUITValid, md.DocumentNumber
			if len(md.Dates) > 0 {
				date = md.Dates[0]
			}
			if len(md.Amounts) > 0 {
				amount = md.Amounts[0]
			}
		}
		rows = append(rows, []any{
			r.ID,
			r.FileName,
			r.Path,
			string(r.Status),
			string(r.Type()),
			round3(r.Confidence()),
			supplier,
			cuit,
			cuitValid,
			date,
			amount,
			number,
			reasoning,
			r.Error,
			r.DurationMS,
		})
	}
	return rows
}

func methodRows(report *batch.Report) [][]any {
	var rows [][]any
	for _, r := range report.Results {
		rec := r.Classification
		if rec == nil {
			continue
		}
		for _, m := range intelligence.AllMethods() {
			res, ok := rec.Methods[m]
			if !ok {
				continue
			}
			contrib := rec.Contributions[m]
			rows = append(rows, []any{
				r.ID,
				r.FileName,
				string(m),
				string(res.Type),
				round3(res.Confidence),
				contrib.Weight,
				round3(contrib.Contribution),
				res.Error,
				string(rec.Type),
				round3(rec.Confidence),
			})
		}
	}
	return rows
}

type jsonExport struct {
	Metadata   jsonMetadata           `json:"metadata"`
	Summary    batch.Summary          `json:"summary"`
	Statistics Statistics             `json:"statistics"`
	Records    []batch.DocumentResult `json:"records"`
}

type jsonMetadata struct {
	ExportDate   time.Time `json:"export_date"`
	TotalRecords int       `json:"total_records"`
	Format       Format    `json:"format"`
	Version      string    `json:"version"`
}

// WriteJSON writes the report with export metadata and statistics
func WriteJSON(w io.Writer, report *batch.Report) error {
	out := jsonExport{
		Metadata: jsonMetadata{
			ExportDate:   time.Now().UTC(),
			TotalRecords: len(report.Results),
			Format:       FormatJSON,
			Version:      "1.0",
		},
		Summary:    report.Summary,
		Statistics: ComputeStatistics(report),
		Records:    report.Results,
	}
	if out.Records == nil {
		out.Records = []batch.DocumentResult{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteCSV writes one row per document with per-method verdicts flattened
func WriteCSV(w io.Writer, report *batch.Report) error {
	if _, err := w.Write(bom); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	methods := intelligence.AllMethods()
	header := append([]string{}, detailColumns...)
	for _, m := range methods {
		header = append(header, "method_"+string(m)+"_type", "method_"+string(m)+"_confidence")
	}
	header = append(header, "consensus_best", "consensus_strong")

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	detail := detailRows(report)
	for i, r := range report.Results {
		row := make([]string, 0, len(header))
		for _, v := range detail[i] {
			row = append(row, cellString(v))
		}
		for _, m := range methods {
			var typ, conf string
			if r.Classification != nil {
				if res, ok := r.Classification.Methods[m]; ok {
					typ = string(res.Type)
					conf = strconv.FormatFloat(round3(res.Confidence), 'f', -1, 64)
				}
			}
			row = append(row, typ, conf)
		}
		var best, strong string
		if r.Classification != nil {
			best = string(r.Classification.Consensus.Best)
			strong = strconv.FormatBool(r.Classification.Consensus.Strong)
		}
		row = append(row, best, strong)

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func cellString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

func sortedTypes(m map[intelligence.DocumentType]int) []intelligence.DocumentType {
	types := make([]intelligence.DocumentType, 0, len(m))
	for dt := range m {
		types = append(types, dt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
