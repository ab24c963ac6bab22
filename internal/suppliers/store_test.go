package suppliers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acme() Record {
	return Record{
		ID:    "acme",
		Names: []string{"ACME S.A.", "ACME"},
		CUIT:  "30-12345678-1",
		Patterns: map[string]DocumentPatterns{
			"facturas": {SpecificTerms: []string{"ABONO"}, ConfidenceBoost: 0.2},
		},
	}
}

func TestOpenInMemoryDefaults(t *testing.T) {
	s, err := Open("", zerolog.Nop())
	require.NoError(t, err)

	assert.Empty(t, s.Path())
	assert.Equal(t, 5, s.Len())

	r, ok := s.Get("telecom_argentina")
	require.True(t, ok)
	assert.Equal(t, "telecom_argentina", r.ID)
	assert.Equal(t, 0.3, r.Patterns["facturas"].ConfidenceBoost)
}

func TestOpenSeedsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "suppliers.json")

	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 5, s.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "edesur")

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, s.All(), reopened.All())
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suppliers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestAddPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suppliers.json")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Add(acme()))
	assert.Equal(t, 6, s.Len())

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	got, ok := reopened.Get("acme")
	require.True(t, ok)
	assert.Equal(t, []string{"ACME S.A.", "ACME"}, got.Names)
	assert.Equal(t, "30-12345678-1", got.CUIT)
}

func TestAddRejectsInvalid(t *testing.T) {
	s := NewMemory()

	err := s.Add(Record{ID: "  ", Names: []string{"X"}})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	err = s.Add(Record{ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Equal(t, 0, s.Len())
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewMemory(acme())

	r, ok := s.Get("acme")
	require.True(t, ok)
	r.Names[0] = "CHANGED"
	r.Patterns["facturas"] = DocumentPatterns{}

	again, _ := s.Get("acme")
	assert.Equal(t, "ACME S.A.", again.Names[0])
	assert.Equal(t, 0.2, again.Patterns["facturas"].ConfidenceBoost)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestUpdatePatterns(t *testing.T) {
	s := NewMemory(acme())

	require.NoError(t, s.UpdatePatterns("acme", "facturas", []string{"abono", "CARGO FIJO"}, []string{"VENCIMIENTO"}))
	r, _ := s.Get("acme")
	p := r.Patterns["facturas"]
	assert.Equal(t, []string{"ABONO", "CARGO FIJO"}, p.SpecificTerms)
	assert.Equal(t, []string{"VENCIMIENTO"}, p.LayoutIndicators)
	assert.Equal(t, 0.2, p.ConfidenceBoost)

	require.NoError(t, s.UpdatePatterns("acme", "remitos", []string{"ENTREGA"}, nil))
	r, _ = s.Get("acme")
	assert.Equal(t, DefaultPatternBoost, r.Patterns["remitos"].ConfidenceBoost)
	assert.Equal(t, []string{}, r.Patterns["remitos"].LayoutIndicators)

	err := s.UpdatePatterns("nobody", "facturas", []string{"X"}, nil)
	assert.ErrorIs(t, err, ErrUnknownSupplier)
}

func TestSearch(t *testing.T) {
	s := NewMemory(acme(), Record{ID: "beta", Names: []string{"BETA ACMEX"}, CUIT: "20-11111111-2"})

	tests := []struct {
		name  string
		query string
		want  []string
		score []float64
	}{
		{name: "name", query: "acme", want: []string{"acme", "beta"}, score: []float64{0.8, 0.8}},
		{name: "cuit first", query: "30-1234", want: []string{"acme"}, score: []float64{1.0}},
		{name: "no match", query: "zeta"},
		{name: "blank", query: "  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Search(tt.query)
			require.NotNil(t, got)
			require.Len(t, got, len(tt.want))
			for i, r := range got {
				assert.Equal(t, tt.want[i], r.ID)
				assert.Equal(t, tt.score[i], r.Score)
			}
		})
	}
}

func TestSuppliersSorted(t *testing.T) {
	s := NewMemory(Record{ID: "b", Names: []string{"B"}}, acme())

	records, err := s.Suppliers()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "acme", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}
