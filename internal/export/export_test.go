package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/a3tai/pdf-doc-classifier/internal/batch"
	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/a3tai/pdf-doc-classifier/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleReport() *batch.Report {
	invoice := &intelligence.ClassificationRecord{
		Type:       intelligence.DocumentTypeInvoice,
		Confidence: 0.8123,
		Methods: intelligence.MethodResultSet{
			intelligence.MethodKeyword: {ScoreResult: intelligence.ScoreResult{Type: intelligence.DocumentTypeInvoice, Confidence: 0.9}},
			intelligence.MethodRegex:   {ScoreResult: intelligence.ScoreResult{Type: intelligence.DocumentTypeInvoice, Confidence: 0.5}},
		},
		Contributions: map[intelligence.Method]intelligence.MethodContribution{
			intelligence.MethodKeyword: {Type: intelligence.DocumentTypeInvoice, Confidence: 0.9, Weight: 0.15, Contribution: 0.135},
		},
		Supplier:  &intelligence.SupplierMatch{ID: "telecom_argentina", Confidence: 0.85},
		Consensus: intelligence.ConsensusAnalysis{Best: intelligence.DocumentTypeInvoice, Strong: true},
		Reasoning: "Alta confianza (0.812)",
	}
	remito := &intelligence.ClassificationRecord{
		Type:       intelligence.DocumentTypeDeliveryNote,
		Confidence: 0.4,
		Methods: intelligence.MethodResultSet{
			intelligence.MethodKeyword: {ScoreResult: intelligence.ScoreResult{Type: intelligence.DocumentTypeDeliveryNote, Confidence: 0.4}},
		},
		Reasoning: "Confianza media (0.400)",
	}

	start := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	return &batch.Report{
		Summary: batch.Summary{
			BatchID:    "batch-1",
			Directory:  "/docs",
			Total:      3,
			Succeeded:  2,
			Failed:     1,
			ByType:     map[intelligence.DocumentType]int{intelligence.DocumentTypeInvoice: 1, intelligence.DocumentTypeDeliveryNote: 1},
			StartedAt:  start,
			FinishedAt: start.Add(2 * time.Second),
			ElapsedMS:  2000,
		},
		Results: []batch.DocumentResult{
			{
				ID: "doc-1", Path: "/docs/f.pdf", FileName: "f.pdf", Status: batch.StatusClassified,
				Classification: invoice,
				Metadata: &metadata.Metadata{
					CUIT: "20-12345678-6", CUITValid: true,
					Dates: []string{"15/03/2024"}, Amounts: []string{"$ 1.500"}, DocumentNumber: "0001-1",
				},
			},
			{ID: "doc-2", Path: "/docs/r.pdf", FileName: "r.pdf", Status: batch.StatusClassified, Classification: remito},
			{ID: "doc-3", Path: "/docs/x.pdf", FileName: "x.pdf", Status: batch.StatusFailed, Error: "unreadable pdf"},
		},
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"report.xlsx", FormatExcel},
		{"REPORT.JSON", FormatJSON},
		{"out/report.csv", FormatCSV},
	}
	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := FormatFromPath("report.xml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestComputeStatistics(t *testing.T) {
	st := ComputeStatistics(sampleReport())

	assert.Equal(t, 3, st.TotalDocuments)
	assert.Equal(t, 2, st.Classified)
	assert.Equal(t, 1, st.Failed)
	assert.InDelta(t, 0.404, st.AverageConfidence, 1e-9)
	assert.Equal(t, 3, st.DocumentTypes)
	assert.Equal(t, 1, st.UniqueSuppliers)
	assert.Equal(t, "desconocido", st.MostCommonType)
	assert.Equal(t, 1, st.CountByType[intelligence.DocumentTypeUnknown])

	empty := ComputeStatistics(&batch.Report{})
	assert.Equal(t, "N/A", empty.MostCommonType)
	assert.Zero(t, empty.AverageConfidence)
}

func TestWriteExcel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteExcel(&buf, sampleReport()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetSummary, SheetDetailed, SheetMethods}, f.GetSheetList())

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{"metrica", "valor"}, summary[0])
	assert.Equal(t, []string{"lote_id", "batch-1"}, summary[1])
	assert.Contains(t, summary, []string{"total_documentos", "3"})
	assert.Contains(t, summary, []string{"count_facturas", "1"})

	detailed, err := f.GetRows(SheetDetailed)
	require.NoError(t, err)
	require.Len(t, detailed, 4)
	assert.Equal(t, detailColumns, detailed[0])
	assert.Equal(t, "f.pdf", detailed[1][1])
	assert.Equal(t, "facturas", detailed[1][4])
	assert.Equal(t, "0.812", detailed[1][5])
	assert.Equal(t, "telecom_argentina", detailed[1][6])
	assert.Equal(t, "20-12345678-6", detailed[1][7])
	assert.Equal(t, "failed", detailed[3][3])

	methods, err := f.GetRows(SheetMethods)
	require.NoError(t, err)
	require.Len(t, methods, 4)
	assert.Equal(t, []string{"doc-1", "f.pdf", "keyword", "facturas", "0.9", "0.15", "0.135", "", "facturas", "0.812"}, methods[1])
	assert.Equal(t, "regex", methods[2][2])
	assert.Equal(t, "r.pdf", methods[3][1])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleReport()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	md := got["metadata"].(map[string]any)
	assert.Equal(t, float64(3), md["total_records"])
	assert.Equal(t, "json", md["format"])

	records := got["records"].([]any)
	require.Len(t, records, 3)
	first := records[0].(map[string]any)
	assert.Equal(t, "f.pdf", first["filename"])
	cls := first["classification"].(map[string]any)
	assert.Equal(t, "facturas", cls["final_classification"])

	stats := got["statistics"].(map[string]any)
	assert.Equal(t, float64(1), stats["proveedores_unicos"])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleReport()))
	require.True(t, bytes.HasPrefix(buf.Bytes(), bom))

	rows, err := csv.NewReader(bytes.NewReader(buf.Bytes()[len(bom):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	header := rows[0]
	idx := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("missing column %s", name)
		return -1
	}
	assert.Equal(t, "facturas", rows[1][idx("method_keyword_type")])
	assert.Equal(t, "0.9", rows[1][idx("method_keyword_confidence")])
	assert.Equal(t, "true", rows[1][idx("consensus_strong")])
	assert.Equal(t, "true", rows[1][idx("cuit_valido")])
	assert.Empty(t, rows[2][idx("method_regex_type")])
	assert.Equal(t, "unreadable pdf", rows[3][idx("error")])
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"r.xlsx", "r.json", "r.csv"} {
		path := filepath.Join(dir, name)
		require.NoError(t, WriteFile(path, sampleReport()))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	err := WriteFile(filepath.Join(dir, "r.txt"), sampleReport())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Error(t, Write(&bytes.Buffer{}, FormatJSON, nil))
}
