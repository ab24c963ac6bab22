package intelligence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/a3tai/pdf-doc-classifier/internal/suppliers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScorer struct {
	method Method
	result ScoreResult
	err    error
	panics bool
}

func (f fakeScorer) Method() Method { return f.method }

func (f fakeScorer) Score(context.Context, Input) (ScoreResult, error) {
	if f.panics {
		panic("scorer exploded")
	}
	return f.result, f.err
}

func vote(m Method, dt DocumentType, conf float64) fakeScorer {
	return fakeScorer{method: m, result: ScoreResult{Type: dt, Confidence: conf}}
}

type failingCatalog struct{}

func (failingCatalog) Suppliers() ([]suppliers.Record, error) {
	return nil, errors.New("database locked")
}

type recordedClassification struct {
	docType DocumentType
	path    string
}

type fakeRecorder struct {
	classifications []recordedClassification
	methodErrors    []Method
}

func (r *fakeRecorder) ObserveClassification(dt DocumentType, path string, _ time.Duration) {
	r.classifications = append(r.classifications, recordedClassification{dt, path})
}

func (r *fakeRecorder) ObserveMethodError(m Method) {
	r.methodErrors = append(r.methodErrors, m)
}

// bareConfig disables every optional scorer so tests inject exactly the
// verdicts they need
func bareConfig() ArbitrationConfig {
	cfg := DefaultArbitrationConfig()
	cfg.EnableML = false
	cfg.EnableLayout = false
	cfg.EnableAgro = false
	cfg.EnableCommercial = false
	return cfg
}

func newTestClassifier(t *testing.T, catalog SupplierCatalog, opts ...Option) *Classifier {
	t.Helper()
	if catalog == nil {
		catalog = suppliers.NewMemory()
	}
	c, err := NewClassifier(bareConfig(), MustLoadDefaultRules(), catalog, opts...)
	require.NoError(t, err)
	return c
}

func TestDefaultArbitrationConfig(t *testing.T) {
	cfg := DefaultArbitrationConfig()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 1.0, cfg.WeightSum(), 1e-9)
	assert.Equal(t, 0.15, cfg.MinConfidence)
	assert.Equal(t, 0.8, cfg.HighConfidence)
	require.Len(t, cfg.Priority, 2)
	assert.Equal(t, MethodAgro, cfg.Priority[0].Method)
	assert.Equal(t, MethodCommercial, cfg.Priority[1].Method)
}

func TestArbitrationConfigValidate(t *testing.T) {
	cfg := DefaultArbitrationConfig()
	cfg.Weights[MethodRegex] = -0.1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidWeights)

	cfg = DefaultArbitrationConfig()
	cfg.MinConfidence = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultArbitrationConfig()
	cfg.HighConfidence = 0.1
	assert.Error(t, cfg.Validate())
}

func TestNewClassifierRequiresCatalog(t *testing.T) {
	_, err := NewClassifier(DefaultArbitrationConfig(), nil, nil)
	assert.Error(t, err)
}

func TestClassifyPriorityOverrideAgro(t *testing.T) {
	rec := &fakeRecorder{}
	c := newTestClassifier(t, nil,
		WithRecorder(rec),
		WithScorer(vote(MethodKeyword, DocumentTypeInvoice, 0.9)),
		WithScorer(vote(MethodAgro, DocumentTypeGrainSettlement, 0.95)),
		WithScorer(vote(MethodCommercial, DocumentTypePaymentOrder, 0.95)),
	)

	got, err := c.Classify(context.Background(), Input{Text: "liquidación"})
	require.NoError(t, err)

	assert.Equal(t, DocumentTypeGrainSettlement, got.Type)
	assert.InDelta(t, 0.95*0.25+0.3, got.Confidence, 1e-9)
	assert.Equal(t, MethodAgro, got.PriorityOverride)
	assert.Equal(t, 0.3, got.PriorityBonus)
	assert.Equal(t, "Documento agropecuario detectado con alta confianza (0.950) - prioridad automática", got.Reasoning)

	require.Len(t, got.Contributions, 1)
	assert.InDelta(t, got.Confidence, got.Contributions[MethodAgro].Contribution, 1e-9)
	assert.Empty(t, got.WeightedScores)

	require.Len(t, rec.classifications, 1)
	assert.Equal(t, PathOverride, rec.classifications[0].path)
}

func TestClassifyPriorityOverrideCommercial(t *testing.T) {
	c := newTestClassifier(t, nil,
		WithScorer(vote(MethodAgro, DocumentTypeGrainSettlement, 0.4)),
		WithScorer(vote(MethodCommercial, DocumentTypePaymentOrder, 0.92)),
	)

	got, err := c.Classify(context.Background(), Input{Text: "orden de pago"})
	require.NoError(t, err)

	assert.Equal(t, DocumentTypePaymentOrder, got.Type)
	assert.InDelta(t, 0.92*0.22+0.25, got.Confidence, 1e-9)
	assert.Equal(t, MethodCommercial, got.PriorityOverride)
	assert.Contains(t, got.Reasoning, "Documento comercial detectado")
}

func TestClassifyPriorityOrderIsConfigurable(t *testing.T) {
	cfg := bareConfig()
	cfg.Priority = []PriorityRule{cfg.Priority[1], cfg.Priority[0]}
	c, err := NewClassifier(cfg, nil, suppliers.NewMemory(),
		WithScorer(vote(MethodAgro, DocumentTypeGrainSettlement, 0.95)),
		WithScorer(vote(MethodCommercial, DocumentTypePaymentOrder, 0.95)),
	)
	require.NoError(t, err)

	got, err := c.Classify(context.Background(), Input{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, DocumentTypePaymentOrder, got.Type)
	assert.Equal(t, MethodCommercial, got.PriorityOverride)
}

func TestClassifyStrongConsensus(t *testing.T) {
	c := newTestClassifier(t, nil,
		WithScorer(vote(MethodKeyword, DocumentTypeInvoice, 0.8)),
		WithScorer(vote(MethodRegex, DocumentTypeInvoice, 0.6)),
	)

	got, err := c.Classify(context.Background(), Input{Text: "factura"})
	require.NoError(t, err)

	assert.Equal(t, DocumentTypeInvoice, got.Type)
	assert.InDelta(t, 0.8*0.15+0.6*0.15+0.1, got.Confidence, 1e-9)
	assert.True(t, got.Consensus.Strong)
	assert.Equal(t, DocumentTypeInvoice, got.Consensus.Best)
	assert.InDelta(t, 0.1, got.ConsensusFactor, 1e-9)
	assert.Zero(t, got.ConsensusPenalty)
	assert.Equal(t,
		"Métodos coincidentes: keyword (0.80), regex (0.60) | Consenso fuerte: 2 métodos coinciden | Confianza media (0.310)",
		got.Reasoning)
}

func TestClassifyGateBelowMinimum(t *testing.T) {
	rec := &fakeRecorder{}
	c := newTestClassifier(t, nil,
		WithRecorder(rec),
		WithScorer(vote(MethodKeyword, DocumentTypeInvoice, 0.5)),
	)

	got, err := c.Classify(context.Background(), Input{Text: "x"})
	require.NoError(t, err)

	assert.Equal(t, DocumentTypeUnknown, got.Type)
	assert.Zero(t, got.Confidence)
	assert.InDelta(t, 0.075, got.WeightedScores[DocumentTypeInvoice], 1e-9)
	assert.Equal(t, "Baja confianza (0.000)", got.Reasoning)
	assert.Equal(t, PathGated, rec.classifications[0].path)
}

func TestClassifyNoVotes(t *testing.T) {
	c := newTestClassifier(t, nil)

	got, err := c.Classify(context.Background(), Input{Text: "   "})
	require.NoError(t, err)
	assert.Equal(t, DocumentTypeUnknown, got.Type)
	assert.Zero(t, got.Confidence)
	assert.NotEmpty(t, got.Reasoning)
}

func TestClassifyTieKeepsFirstInsertedType(t *testing.T) {
	c := newTestClassifier(t, nil,
		WithScorer(vote(MethodKeyword, DocumentTypeInvoice, 1.0)),
		WithScorer(vote(MethodRegex, DocumentTypeDeliveryNote, 1.0)),
	)

	got, err := c.Classify(context.Background(), Input{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, DocumentTypeInvoice, got.Type)
	assert.InDelta(t, 0.15, got.Confidence, 1e-9)
	assert.False(t, got.Consensus.Strong)
}

func TestClassifyLoneHighConfidencePenalty(t *testing.T) {
	c := newTestClassifier(t, nil, WithScorer(vote(MethodKeyword, DocumentTypeInvoice, 1.0)))
	c, err := c.AdjustWeights(map[Method]float64{MethodKeyword: 0.9})
	require.NoError(t, err)

	got, err := c.Classify(context.Background(), Input{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, DocumentTypeInvoice, got.Type)
	assert.InDelta(t, 0.81, got.Confidence, 1e-9)
	assert.Equal(t, 0.1, got.ConsensusPenalty)
	assert.Contains(t, got.Reasoning, "Alta confianza (0.810)")
}

func TestClassifySupplierBoost(t *testing.T) {
	catalog := suppliers.NewMemory(suppliers.Record{
		ID:    "acme",
		Names: []string{"ACME"},
		CUIT:  "30-12345678-9",
		Patterns: map[string]suppliers.DocumentPatterns{
			"facturas": {ConfidenceBoost: 0.2},
		},
	})
	c := newTestClassifier(t, catalog,
		WithScorer(vote(MethodKeyword, DocumentTypeInvoice, 1.0)),
		WithScorer(vote(MethodRegex, DocumentTypeUnknown, 0)),
	)

	got, err := c.Classify(context.Background(), Input{Text: "ACME S.A. CUIT 30-12345678-9"})
	require.NoError(t, err)

	require.NotNil(t, got.Supplier)
	assert.Equal(t, "acme", got.Supplier.ID)
	assert.InDelta(t, 0.7, got.Supplier.Confidence, 1e-9)
	assert.Equal(t, 0.2, got.SupplierBoost)
	assert.Equal(t, DocumentTypeInvoice, got.Type)
	assert.InDelta(t, 0.35, got.Confidence, 1e-9)
	assert.Equal(t,
		"Métodos coincidentes: keyword (1.00) | Proveedor detectado: acme | Confianza media (0.350)",
		got.Reasoning)
}

func TestClassifyMandatoryFailure(t *testing.T) {
	rec := &fakeRecorder{}
	c := newTestClassifier(t, nil,
		WithRecorder(rec),
		WithScorer(fakeScorer{method: MethodKeyword, err: errors.New("boom")}),
	)

	got, err := c.Classify(context.Background(), Input{Text: "factura"})
	require.Error(t, err)

	var se *ScorerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, MethodKeyword, se.Method)

	require.NotNil(t, got)
	assert.Equal(t, DocumentTypeUnknown, got.Type)
	assert.Zero(t, got.Confidence)
	assert.Contains(t, got.Error, "boom")
	assert.Equal(t, []Method{MethodKeyword}, rec.methodErrors)
	assert.Equal(t, PathError, rec.classifications[0].path)
}

func TestClassifyCatalogFailure(t *testing.T) {
	c := newTestClassifier(t, failingCatalog{})

	got, err := c.Classify(context.Background(), Input{Text: "factura"})
	require.Error(t, err)

	var se *ScorerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, MethodSupplier, se.Method)
	assert.Contains(t, got.Error, "database locked")
}

func TestClassifyOptionalFailuresAreIsolated(t *testing.T) {
	rec := &fakeRecorder{}
	c := newTestClassifier(t, nil,
		WithRecorder(rec),
		WithScorer(vote(MethodKeyword, DocumentTypeInvoice, 0.8)),
		WithScorer(vote(MethodRegex, DocumentTypeInvoice, 0.6)),
		WithScorer(fakeScorer{method: MethodAgro, err: errors.New("agro down")}),
		WithScorer(fakeScorer{method: MethodCommercial, panics: true}),
	)

	got, err := c.Classify(context.Background(), Input{Text: "factura"})
	require.NoError(t, err)

	assert.Equal(t, DocumentTypeInvoice, got.Type)
	assert.InDelta(t, 0.31, got.Confidence, 1e-9)

	require.Contains(t, got.Methods, MethodAgro)
	assert.True(t, got.Methods[MethodAgro].Failed())
	assert.Contains(t, got.Methods[MethodAgro].Error, "agro down")
	require.Contains(t, got.Methods, MethodCommercial)
	assert.True(t, got.Methods[MethodCommercial].Failed())
	assert.Contains(t, got.Methods[MethodCommercial].Error, "panic")

	assert.ElementsMatch(t, []Method{MethodAgro, MethodCommercial}, rec.methodErrors)
}

func TestClassifyLayoutNeedsGeometry(t *testing.T) {
	c := newTestClassifier(t, nil, WithScorer(vote(MethodLayout, DocumentTypeInvoice, 0.9)))

	got, err := c.Classify(context.Background(), Input{Text: "x"})
	require.NoError(t, err)
	assert.NotContains(t, got.Methods, MethodLayout)

	got, err = c.Classify(context.Background(), Input{Text: "x", Geometry: StaticGeometry(&PageGeometry{Width: 612, Height: 792})})
	require.NoError(t, err)
	assert.Contains(t, got.Methods, MethodLayout)
}

func TestClassifyDeterministic(t *testing.T) {
	cfg := DefaultArbitrationConfig()
	cfg.EnableLayout = false
	c, err := NewClassifier(cfg, nil, suppliers.NewMemory())
	require.NoError(t, err)

	text := "FACTURA A N° 0001-00001234 CUIT 30-12345678-9 IVA 21% TOTAL $ 1.210,00 cereales soja"
	first, err := c.Classify(context.Background(), Input{Text: text})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.Classify(context.Background(), Input{Text: text})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestClassifyPaymentOrderEndToEnd(t *testing.T) {
	cfg := DefaultArbitrationConfig()
	cfg.EnableML = false
	c, err := NewClassifier(cfg, nil, suppliers.NewMemory())
	require.NoError(t, err)

	got, err := c.Classify(context.Background(), Input{
		Text: "ORDEN DE PAGO número 123 para pago de servicios por importe de $50000",
	})
	require.NoError(t, err)

	assert.Equal(t, DocumentTypePaymentOrder, got.Type)
	assert.InDelta(t, 0.1851667, got.Confidence, 1e-4)
	assert.Empty(t, got.PriorityOverride)
	assert.False(t, got.Consensus.Strong)
	assert.Contains(t, got.Reasoning, "commercial (0.84)")
	assert.Contains(t, got.Reasoning, "Confianza media")
}

func TestAdjustWeights(t *testing.T) {
	c := newTestClassifier(t, nil)

	_, err := c.AdjustWeights(map[Method]float64{MethodRegex: -1})
	assert.ErrorIs(t, err, ErrInvalidWeights)
	assert.Equal(t, 0.15, c.Config().Weights[MethodRegex])

	next, err := c.AdjustWeights(map[Method]float64{MethodRegex: 0.3})
	require.NoError(t, err)
	assert.Equal(t, 0.3, next.Config().Weights[MethodRegex])
	assert.Equal(t, 0.15, c.Config().Weights[MethodRegex])
	assert.Equal(t, 0.15, next.Config().Weights[MethodKeyword])
}

func TestStatus(t *testing.T) {
	c := newTestClassifier(t, suppliers.NewMemory(
		suppliers.Record{ID: "a", Names: []string{"A"}},
		suppliers.Record{ID: "b", Names: []string{"B"}},
	))

	st := c.Status()
	assert.Equal(t, []Method{MethodKeyword, MethodRegex, MethodSupplier}, st.AvailableMethods)
	assert.False(t, st.Methods[MethodML].Available)
	assert.True(t, st.Methods[MethodKeyword].Trained)
	assert.Equal(t, 2, st.Methods[MethodSupplier].SuppliersCount)
	assert.Equal(t, 0.25, st.Methods[MethodAgro].Weight)
}

func TestStatusReportsTrainedModel(t *testing.T) {
	c, err := NewClassifier(DefaultArbitrationConfig(), nil, suppliers.NewMemory())
	require.NoError(t, err)

	st := c.Status()
	assert.True(t, st.Methods[MethodML].Available)
	assert.True(t, st.Methods[MethodML].Trained)
	assert.Contains(t, st.AvailableMethods, MethodLayout)
	assert.NotNil(t, c.Statistical())
}

func TestDetailedAnalysis(t *testing.T) {
	cfg := DefaultArbitrationConfig()
	cfg.EnableML = false
	c, err := NewClassifier(cfg, nil, suppliers.NewMemory())
	require.NoError(t, err)

	text := "ORDEN DE PAGO número 123 para pago de servicios por importe de $50000"
	d, err := c.DetailedAnalysis(context.Background(), Input{Text: text})
	require.NoError(t, err)

	require.NotNil(t, d.Classification)
	assert.Equal(t, DocumentTypePaymentOrder, d.Classification.Type)
	require.NotNil(t, d.Keyword)
	require.NotNil(t, d.Structure)
	require.NotNil(t, d.Commercial)
	require.NotNil(t, d.Agro)
	assert.Nil(t, d.ML)
	assert.Nil(t, d.Layout)
}

func TestAddPatternThroughClassifier(t *testing.T) {
	c := newTestClassifier(t, nil)

	require.NoError(t, c.AddPattern(DocumentTypeCheque, `CHEQUE\s+N[°º]\s*\d+`))
	assert.Contains(t, c.regex.Patterns()[DocumentTypeCheque], `CHEQUE\s+N[°º]\s*\d+`)
	assert.ErrorIs(t, c.AddPattern(DocumentTypeCheque, `(`), ErrInvalidPattern)
}
