package intelligence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Decision paths reported to the Recorder
const (
	PathOverride = "override"
	PathWeighted = "weighted"
	PathGated    = "gated"
	PathError    = "error"
)

// PriorityRule lets a very confident sector scorer bypass weighted
// aggregation. Rules are checked in order; the first that fires wins.
type PriorityRule struct {
	Method          Method  `json:"method"`
	MinConfidence   float64 `json:"min_confidence"`
	DomainThreshold float64 `json:"domain_threshold"`
	Bonus           float64 `json:"bonus"`
	Label           string  `json:"label"`
}

// ArbitrationConfig holds the weights and thresholds of the engine. A
// Classifier never modifies its config; AdjustWeights builds a new engine.
type ArbitrationConfig struct {
	Weights              map[Method]float64 `json:"weights"`
	MinConfidence        float64            `json:"min_confidence"`
	HighConfidence       float64            `json:"high_confidence"`
	VoteFloor            float64            `json:"vote_floor"`
	StrongConsensusVotes int                `json:"strong_consensus_votes"`
	StrongConsensusAvg   float64            `json:"strong_consensus_avg"`
	ConsensusBoost       float64            `json:"consensus_boost"`
	LoneHighThreshold    float64            `json:"lone_high_threshold"`
	LoneHighPenalty      float64            `json:"lone_high_penalty"`
	Priority             []PriorityRule     `json:"priority"`

	EnableML         bool `json:"enable_ml"`
	EnableLayout     bool `json:"enable_layout"`
	EnableAgro       bool `json:"enable_agro"`
	EnableCommercial bool `json:"enable_commercial"`
}

// DefaultWeights returns the method weight table
func DefaultWeights() map[Method]float64 {
	return map[Method]float64{
		MethodKeyword:    0.15,
		MethodRegex:      0.15,
		MethodML:         0.10,
		MethodLayout:     0.08,
		MethodAgro:       0.25,
		MethodCommercial: 0.22,
		MethodSupplier:   0.05,
	}
}

// DefaultPriority returns the override rules: agro first, then commercial
func DefaultPriority() []PriorityRule {
	return []PriorityRule{
		{Method: MethodAgro, MinConfidence: 0.9, DomainThreshold: 0.3, Bonus: 0.3, Label: "agropecuario"},
		{Method: MethodCommercial, MinConfidence: 0.9, DomainThreshold: 0.3, Bonus: 0.25, Label: "comercial"},
	}
}

// DefaultArbitrationConfig returns the engine defaults with every optional scorer enabled
func DefaultArbitrationConfig() ArbitrationConfig {
	return ArbitrationConfig{
		Weights:              DefaultWeights(),
		MinConfidence:        0.15,
		HighConfidence:       0.8,
		VoteFloor:            0.1,
		StrongConsensusVotes: 2,
		StrongConsensusAvg:   0.5,
		ConsensusBoost:       0.1,
		LoneHighThreshold:    0.7,
		LoneHighPenalty:      0.1,
		Priority:             DefaultPriority(),
		EnableML:             true,
		EnableLayout:         true,
		EnableAgro:           true,
		EnableCommercial:     true,
	}
}

// Validate rejects negative weights and out-of-range thresholds
func (c ArbitrationConfig) Validate() error {
	for m, w := range c.Weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("%w: %s weight %v is negative", ErrInvalidWeights, m, w)
		}
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence %v out of range [0,1]", c.MinConfidence)
	}
	if c.HighConfidence < c.MinConfidence || c.HighConfidence > 1 {
		return fmt.Errorf("high confidence %v out of range [%v,1]", c.HighConfidence, c.MinConfidence)
	}
	for _, p := range c.Priority {
		if p.Bonus < 0 {
			return fmt.Errorf("priority rule for %s has negative bonus", p.Method)
		}
	}
	return nil
}

// WeightSum returns the sum of all method weights
func (c ArbitrationConfig) WeightSum() float64 {
	sum := 0.0
	for _, w := range c.Weights {
		sum += w
	}
	return sum
}

func (c ArbitrationConfig) clone() ArbitrationConfig {
	out := c
	out.Weights = make(map[Method]float64, len(c.Weights))
	for m, w := range c.Weights {
		out.Weights[m] = w
	}
	out.Priority = append([]PriorityRule(nil), c.Priority...)
	return out
}

// Recorder observes classification outcomes
type Recorder interface {
	ObserveClassification(docType DocumentType, path string, elapsed time.Duration)
	ObserveMethodError(method Method)
}

type nopRecorder struct{}

func (nopRecorder) ObserveClassification(DocumentType, string, time.Duration) {}
func (nopRecorder) ObserveMethodError(Method)                                  {}

// Option configures a Classifier
type Option func(*Classifier)

// WithLogger sets the engine logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(c *Classifier) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithScorer replaces or adds the scorer for s.Method(). A scorer given this
// way runs even if its method is disabled in the config.
func WithScorer(s Scorer) Option {
	return func(c *Classifier) {
		c.injected[s.Method()] = s
	}
}

// Classifier is the arbitration engine: it runs every enabled scorer and
// merges their verdicts into one ClassificationRecord.
type Classifier struct {
	cfg      ArbitrationConfig
	rules    *RuleSet
	catalog  SupplierCatalog
	scorers  map[Method]Scorer
	injected map[Method]Scorer
	supplier *SupplierDetector

	keyword    *KeywordScorer
	regex      *RegexScorer
	agro       *DomainScorer
	commercial *DomainScorer
	bayes      *BayesScorer
	layout     *LayoutScorer

	logger   zerolog.Logger
	recorder Recorder
}

// NewClassifier builds the engine. A nil rule set uses the embedded tables.
func NewClassifier(cfg ArbitrationConfig, rules *RuleSet, catalog SupplierCatalog, opts ...Option) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if catalog == nil {
		return nil, fmt.Errorf("supplier catalog is required")
	}
	if rules == nil {
		var err error
		if rules, err = LoadDefaultRules(); err != nil {
			return nil, err
		}
	}

	c := &Classifier{
		cfg:      cfg.clone(),
		rules:    rules,
		catalog:  catalog,
		scorers:  make(map[Method]Scorer),
		injected: make(map[Method]Scorer),
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "classifier").Logger()

	if sum := c.cfg.WeightSum(); math.Abs(sum-1) > 0.1 {
		c.logger.Warn().Float64("sum", sum).Msg("method weights do not sum to 1.0")
	}

	c.keyword = NewKeywordScorer(rules.Keyword)
	c.regex = NewRegexScorer(rules.Regex, c.logger)
	c.supplier = NewSupplierDetector(catalog, c.logger)
	c.scorers[MethodKeyword] = c.keyword
	c.scorers[MethodRegex] = c.regex

	if c.cfg.EnableAgro {
		c.agro = NewAgroScorer(rules.Agro, c.logger)
		c.scorers[MethodAgro] = c.agro
	}
	if c.cfg.EnableCommercial {
		c.commercial = NewCommercialScorer(rules.Commercial, c.logger)
		c.scorers[MethodCommercial] = c.commercial
	}
	if c.cfg.EnableML {
		bayes, err := NewBayesScorer(rules.Training, c.logger)
		if err != nil {
			c.logger.Warn().Err(err).Msg("statistical scorer disabled")
		} else {
			c.bayes = bayes
			c.scorers[MethodML] = bayes
		}
	}
	if c.cfg.EnableLayout {
		c.layout = NewLayoutScorer(rules.Layout, c.logger)
		c.scorers[MethodLayout] = c.layout
	}

	for m, s := range c.injected {
		c.scorers[m] = s
	}
	return c, nil
}

// Config returns a copy of the engine configuration
func (c *Classifier) Config() ArbitrationConfig {
	return c.cfg.clone()
}

// Classify runs every enabled scorer over in and arbitrates their verdicts.
// A failing mandatory method (keyword, regex, supplier) yields a record with
// Error set and the error itself; optional failures are recorded per method.
func (c *Classifier) Classify(ctx context.Context, in Input) (*ClassificationRecord, error) {
	start := time.Now()
	rec := &ClassificationRecord{
		Type:          DocumentTypeUnknown,
		Methods:       make(MethodResultSet),
		Contributions: make(map[Method]MethodContribution),
	}

	for _, m := range []Method{MethodKeyword, MethodRegex} {
		res, err := c.runScorer(ctx, c.scorers[m], in)
		if err != nil {
			return c.fail(rec, &ScorerError{Method: m, Err: err}, start)
		}
		rec.Methods[m] = MethodResult{ScoreResult: res}
	}

	match, err := c.detectSupplier(ctx, in.Text)
	if err != nil {
		return c.fail(rec, err, start)
	}
	rec.Supplier = match

	for _, m := range resultOrder {
		if m == MethodKeyword || m == MethodRegex {
			continue
		}
		s, ok := c.scorers[m]
		if !ok {
			continue
		}
		if m == MethodLayout && in.Geometry == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return c.fail(rec, err, start)
		}

		res, err := c.runScorer(ctx, s, in)
		if err != nil {
			c.logger.Warn().Err(err).Str("method", string(m)).Msg("scorer failed")
			c.recorder.ObserveMethodError(m)
			rec.Methods[m] = failedResult(&ScorerError{Method: m, Err: err})
			continue
		}
		rec.Methods[m] = MethodResult{ScoreResult: res}
	}

	rec.Consensus = analyzeConsensus(rec.Methods, c.cfg)

	path := c.arbitrate(rec)
	c.recorder.ObserveClassification(rec.Type, path, time.Since(start))
	c.logger.Debug().
		Str("type", string(rec.Type)).
		Float64("confidence", rec.Confidence).
		Str("path", path).
		Msg("document classified")
	return rec, nil
}

func (c *Classifier) fail(rec *ClassificationRecord, err error, start time.Time) (*ClassificationRecord, error) {
	rec.Type = DocumentTypeUnknown
	rec.Confidence = 0
	rec.Error = err.Error()
	rec.Reasoning = "Clasificación incierta"

	var se *ScorerError
	if errors.As(err, &se) {
		c.recorder.ObserveMethodError(se.Method)
	}
	c.recorder.ObserveClassification(DocumentTypeUnknown, PathError, time.Since(start))
	c.logger.Error().Err(err).Msg("classification failed")
	return rec, err
}

// runScorer calls s and converts a panic into an error
func (c *Classifier) runScorer(ctx context.Context, s Scorer, in Input) (res ScoreResult, err error) {
	if s == nil {
		return unknownResult(), fmt.Errorf("scorer not configured")
	}
	defer func() {
		if r := recover(); r != nil {
			res = unknownResult()
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	res, err = s.Score(ctx, in)
	if err != nil {
		return unknownResult(), err
	}
	if !res.Type.IsValid() {
		return unknownResult(), fmt.Errorf("scorer returned unknown document type %q", res.Type)
	}
	res.Confidence = clamp01(res.Confidence)
	return res, nil
}

func (c *Classifier) detectSupplier(ctx context.Context, text string) (m *SupplierMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ScorerError{Method: MethodSupplier, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	m, err = c.supplier.Detect(ctx, text)
	if err != nil {
		var se *ScorerError
		if !errors.As(err, &se) {
			err = &ScorerError{Method: MethodSupplier, Err: err}
		}
	}
	return m, err
}

// arbitrate fills the decision fields of rec and returns the decision path
func (c *Classifier) arbitrate(rec *ClassificationRecord) string {
	if c.applyPriority(rec) {
		return PathOverride
	}

	var order []DocumentType
	scores := make(map[DocumentType]float64)
	for _, m := range weightOrder {
		r, ok := rec.Methods[m]
		if !ok || r.Failed() || r.Confidence <= 0 {
			continue
		}
		w := c.cfg.Weights[m]
		contribution := r.Confidence * w
		if _, seen := scores[r.Type]; !seen {
			order = append(order, r.Type)
		}
		scores[r.Type] += contribution
		rec.Contributions[m] = MethodContribution{
			Type:         r.Type,
			Confidence:   r.Confidence,
			Weight:       w,
			Contribution: contribution,
		}
	}

	if rec.Supplier != nil && len(scores) > 0 {
		leading, _ := argmax(order, scores)
		if boost := rec.Supplier.Boost(leading); boost > 0 {
			scores[leading] += boost
			rec.SupplierBoost = boost
		}
	}

	if rec.Consensus.Strong {
		best := rec.Consensus.Best
		if _, ok := scores[best]; ok {
			factor := c.cfg.ConsensusBoost * rec.Consensus.Stats[best].VotePercentage
			scores[best] += factor
			rec.ConsensusFactor = factor
		}
	}

	path := PathWeighted
	if len(scores) > 0 {
		rec.WeightedScores = scores
		finalType, raw := argmax(order, scores)
		confidence := clamp01(raw)
		if !rec.Consensus.Strong && confidence > c.cfg.LoneHighThreshold {
			confidence *= 1 - c.cfg.LoneHighPenalty
			rec.ConsensusPenalty = c.cfg.LoneHighPenalty
		}
		rec.Type, rec.Confidence = finalType, confidence
	}

	if rec.Confidence < c.cfg.MinConfidence {
		rec.Type = DocumentTypeUnknown
		rec.Confidence = 0
		path = PathGated
	}

	rec.Reasoning = c.reasoning(rec)
	return path
}

func (c *Classifier) applyPriority(rec *ClassificationRecord) bool {
	for _, p := range c.cfg.Priority {
		r, ok := rec.Methods[p.Method]
		if !ok || r.Failed() || !r.Type.IsKnown() {
			continue
		}
		if r.Confidence < p.MinConfidence || r.Confidence <= p.DomainThreshold {
			continue
		}

		w := c.cfg.Weights[p.Method]
		boosted := math.Min(r.Confidence*w+p.Bonus, 1)
		rec.Type = r.Type
		rec.Confidence = boosted
		rec.PriorityOverride = p.Method
		rec.PriorityBonus = p.Bonus
		rec.Contributions[p.Method] = MethodContribution{
			Type:         r.Type,
			Confidence:   r.Confidence,
			Weight:       w,
			Contribution: boosted,
		}
		rec.Reasoning = fmt.Sprintf("Documento %s detectado con alta confianza (%.3f) - prioridad automática", p.Label, r.Confidence)

		c.logger.Info().
			Str("method", string(p.Method)).
			Str("type", string(r.Type)).
			Float64("confidence", boosted).
			Msg("priority override applied")
		return true
	}
	return false
}

func (c *Classifier) reasoning(rec *ClassificationRecord) string {
	var parts []string

	var matching []string
	for _, m := range resultOrder {
		r, ok := rec.Methods[m]
		if !ok || r.Failed() || r.Confidence <= c.cfg.VoteFloor || r.Type != rec.Type {
			continue
		}
		matching = append(matching, fmt.Sprintf("%s (%.2f)", m, r.Confidence))
	}
	if len(matching) > 0 {
		parts = append(parts, "Métodos coincidentes: "+strings.Join(matching, ", "))
	}

	if rec.Consensus.Strong {
		parts = append(parts, fmt.Sprintf("Consenso fuerte: %d métodos coinciden", rec.Consensus.Stats[rec.Consensus.Best].VoteCount))
	}
	if rec.Supplier != nil {
		parts = append(parts, "Proveedor detectado: "+rec.Supplier.ID)
	}

	band := ConfidenceBand(rec.Confidence, c.cfg.MinConfidence, c.cfg.HighConfidence)
	parts = append(parts, fmt.Sprintf("%s (%.3f)", band, rec.Confidence))
	return strings.Join(parts, " | ")
}

// AdjustWeights returns a new engine sharing this engine's scorers with the
// given weights merged over the current table
func (c *Classifier) AdjustWeights(weights map[Method]float64) (*Classifier, error) {
	cfg := c.cfg.clone()
	for m, w := range weights {
		cfg.Weights[m] = w
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	next := *c
	next.cfg = cfg
	if sum := cfg.WeightSum(); math.Abs(sum-1) > 0.1 {
		c.logger.Warn().Float64("sum", sum).Msg("method weights do not sum to 1.0")
	}
	c.logger.Info().Interface("weights", cfg.Weights).Msg("weights adjusted")
	return &next, nil
}

// AddPattern adds a structural pattern to the regex scorer
func (c *Classifier) AddPattern(dt DocumentType, pattern string) error {
	return c.regex.AddPattern(dt, pattern)
}

// Statistical returns the naive Bayes scorer, nil when it is disabled
func (c *Classifier) Statistical() *BayesScorer {
	return c.bayes
}

// MethodStatus describes one method of the engine
type MethodStatus struct {
	Available      bool    `json:"available"`
	Trained        bool    `json:"trained"`
	Weight         float64 `json:"weight"`
	SuppliersCount int     `json:"suppliers_count,omitempty"`
}

// Status is a snapshot of the engine's methods and configuration
type Status struct {
	AvailableMethods []Method                `json:"available_methods"`
	Methods          map[Method]MethodStatus `json:"method_status"`
	MinConfidence    float64                 `json:"min_confidence"`
	HighConfidence   float64                 `json:"high_confidence"`
	Priority         []PriorityRule          `json:"priority"`
}

// Status reports which methods are available
func (c *Classifier) Status() Status {
	st := Status{
		Methods:        make(map[Method]MethodStatus),
		MinConfidence:  c.cfg.MinConfidence,
		HighConfidence: c.cfg.HighConfidence,
		Priority:       append([]PriorityRule(nil), c.cfg.Priority...),
	}
	for _, m := range resultOrder {
		s, ok := c.scorers[m]
		if !ok {
			st.Methods[m] = MethodStatus{Weight: c.cfg.Weights[m]}
			continue
		}
		trained := true
		if b, isBayes := s.(*BayesScorer); isBayes {
			trained = b.Trained()
		}
		st.AvailableMethods = append(st.AvailableMethods, m)
		st.Methods[m] = MethodStatus{Available: true, Trained: trained, Weight: c.cfg.Weights[m]}
	}

	count := 0
	if records, err := c.catalog.Suppliers(); err == nil {
		count = len(records)
	}
	st.AvailableMethods = append(st.AvailableMethods, MethodSupplier)
	st.Methods[MethodSupplier] = MethodStatus{
		Available:      true,
		Trained:        true,
		Weight:         c.cfg.Weights[MethodSupplier],
		SuppliersCount: count,
	}
	return st
}

// DetailedAnalysis is a classification together with every method's breakdown
type DetailedAnalysis struct {
	Classification *ClassificationRecord         `json:"classification"`
	Keyword        *KeywordDetails               `json:"keyword,omitempty"`
	Regex          map[DocumentType][]PatternHit `json:"regex,omitempty"`
	Structure      *StructureAnalysis            `json:"structure,omitempty"`
	Supplier       map[string]string             `json:"supplier,omitempty"`
	ML             map[DocumentType]float64      `json:"ml_probabilities,omitempty"`
	Agro           *DomainDetails                `json:"agro,omitempty"`
	Commercial     *DomainDetails                `json:"commercial,omitempty"`
	Layout         *LayoutReport                 `json:"layout,omitempty"`
}

// DetailedAnalysis classifies in and gathers each method's diagnostic details
func (c *Classifier) DetailedAnalysis(ctx context.Context, in Input) (*DetailedAnalysis, error) {
	rec, err := c.Classify(ctx, in)
	d := &DetailedAnalysis{Classification: rec}
	if err != nil {
		return d, err
	}

	if c.scorers[MethodKeyword] == Scorer(c.keyword) {
		kd := c.keyword.Details(in.Text)
		d.Keyword = &kd
	}
	if c.scorers[MethodRegex] == Scorer(c.regex) {
		d.Regex = c.regex.Details(in.Text, "")
		sa := c.regex.AnalyzeStructure(in.Text)
		d.Structure = &sa
	}
	d.Supplier = c.supplier.ExtractSupplierData(in.Text)

	if c.bayes != nil && c.scorers[MethodML] == Scorer(c.bayes) {
		d.ML = c.bayes.Probabilities(in.Text)
	}
	if c.agro != nil && c.scorers[MethodAgro] == Scorer(c.agro) {
		ad := c.agro.Details(in.Text)
		d.Agro = &ad
	}
	if c.commercial != nil && c.scorers[MethodCommercial] == Scorer(c.commercial) {
		cd := c.commercial.Details(in.Text)
		d.Commercial = &cd
	}
	if c.layout != nil && in.Geometry != nil && c.scorers[MethodLayout] == Scorer(c.layout) {
		lr := c.layout.Report(ctx, in.Geometry)
		d.Layout = &lr
	}
	return d, nil
}
