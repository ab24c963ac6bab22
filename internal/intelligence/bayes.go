package intelligence

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"

	"github.com/navossoc/bayesian"
	"github.com/rs/zerolog"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

const maxVocabulary = 5000

// bayesModel wraps a trained TF-IDF naive Bayes classifier together with
// the vocabulary it was fitted on. It is immutable once built.
type bayesModel struct {
	nb      *bayesian.Classifier
	vocab   map[string]bool
	classes []DocumentType
}

// TrainingReport summarizes a training run
type TrainingReport struct {
	Samples      int                  `json:"samples_total"`
	Features     int                  `json:"features"`
	Classes      []DocumentType       `json:"classes"`
	Distribution map[DocumentType]int `json:"class_distribution"`
	Accuracy     float64              `json:"accuracy"`
}

// FeatureWeight is one vocabulary term and its TF-IDF weight within a class
type FeatureWeight struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// BayesScorer classifies text with a naive Bayes model trained on a
// labelled corpus.
type BayesScorer struct {
	mu     sync.RWMutex
	rules  TrainingRules
	stop   map[string]bool
	model  *bayesModel
	report TrainingReport
	logger zerolog.Logger
}

// NewBayesScorer trains a scorer on the samples of rules
func NewBayesScorer(rules TrainingRules, logger zerolog.Logger) (*BayesScorer, error) {
	if rules.MinDF <= 0 {
		rules.MinDF = 1
	}
	if rules.MaxDF <= 0 || rules.MaxDF > 1 {
		rules.MaxDF = 1
	}

	s := &BayesScorer{
		rules:  rules,
		stop:   make(map[string]bool, len(rules.StopWords)),
		logger: logger.With().Str("component", "bayes_scorer").Logger(),
	}
	for _, w := range rules.StopWords {
		s.stop[lowerText(w)] = true
	}

	if _, err := s.Train(rules.Samples); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BayesScorer) Method() Method { return MethodML }

// Trained reports whether a model is available
func (s *BayesScorer) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != nil
}

// Report returns the summary of the last training run
func (s *BayesScorer) Report() TrainingReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

func (s *BayesScorer) current() *bayesModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Score returns the most probable class. Text sharing no term with the
// vocabulary yields desconocido.
func (s *BayesScorer) Score(_ context.Context, in Input) (ScoreResult, error) {
	model := s.current()
	if model == nil {
		return unknownResult(), ErrNotTrained
	}

	probs, ok := model.predict(s.tokens(in.Text))
	if !ok {
		return unknownResult(), nil
	}

	best := argmaxIndex(probs)
	return ScoreResult{Type: model.classes[best], Confidence: clamp01(probs[best])}, nil
}

// Probabilities returns the posterior of every class, empty when the text
// has no known terms or the model is untrained
func (s *BayesScorer) Probabilities(text string) map[DocumentType]float64 {
	out := make(map[DocumentType]float64)
	model := s.current()
	if model == nil {
		return out
	}
	probs, ok := model.predict(s.tokens(text))
	if !ok {
		return out
	}
	for i, dt := range model.classes {
		out[dt] = probs[i]
	}
	return out
}

// TopFeatures returns the n terms with the highest weight for dt
func (s *BayesScorer) TopFeatures(dt DocumentType, n int) []FeatureWeight {
	model := s.current()
	if model == nil || !containsType(model.classes, dt) {
		return nil
	}

	weights := model.nb.WordsByClass(bayesian.Class(dt))
	out := make([]FeatureWeight, 0, len(weights))
	for term, w := range weights {
		out = append(out, FeatureWeight{Term: term, Weight: w})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Weight != out[b].Weight {
			return out[a].Weight > out[b].Weight
		}
		return out[a].Term < out[b].Term
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Train fits a new model on samples and swaps it in. Accuracy is measured
// on the training samples.
func (s *BayesScorer) Train(samples []TrainingSample) (TrainingReport, error) {
	if len(samples) == 0 {
		return TrainingReport{}, fmt.Errorf("%w: no training samples", ErrNotTrained)
	}

	docs := make([][]string, len(samples))
	for i, sample := range samples {
		docs[i] = s.tokens(sample.Text)
	}

	model, err := fitBayes(docs, samples, s.rules)
	if err != nil {
		return TrainingReport{}, err
	}

	report := TrainingReport{
		Samples:      len(samples),
		Features:     len(model.vocab),
		Classes:      model.classes,
		Distribution: make(map[DocumentType]int),
	}
	correct := 0
	for i, sample := range samples {
		report.Distribution[sample.Label]++
		probs, ok := model.predict(docs[i])
		if !ok {
			continue
		}
		if model.classes[argmaxIndex(probs)] == sample.Label {
			correct++
		}
	}
	report.Accuracy = float64(correct) / float64(len(samples))

	s.mu.Lock()
	s.model = model
	s.report = report
	s.mu.Unlock()

	s.logger.Info().
		Int("samples", report.Samples).
		Int("features", report.Features).
		Float64("accuracy", report.Accuracy).
		Msg("statistical model trained")
	return report, nil
}

// tokens lowercases text, drops stop words and emits unigrams followed by
// bigrams of the remaining tokens
func (s *BayesScorer) tokens(text string) []string {
	var words []string
	for _, w := range tokenPattern.FindAllString(lowerText(text), -1) {
		if !s.stop[w] {
			words = append(words, w)
		}
	}
	out := make([]string, 0, 2*len(words))
	out = append(out, words...)
	for i := 0; i+1 < len(words); i++ {
		out = append(out, words[i]+" "+words[i+1])
	}
	return out
}

// fitBayes selects the vocabulary by document frequency and trains a TF-IDF
// classifier on the in-vocabulary tokens of every sample
func fitBayes(docs [][]string, samples []TrainingSample, rules TrainingRules) (*bayesModel, error) {
	vocab := selectVocabulary(docs, rules)
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%w: empty vocabulary", ErrNotTrained)
	}

	var classes []DocumentType
	for _, sample := range samples {
		if !containsType(classes, sample.Label) {
			classes = append(classes, sample.Label)
		}
	}
	if len(classes) < 2 {
		return nil, fmt.Errorf("%w: at least two labels are required, got %d", ErrNotTrained, len(classes))
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	labels := make([]bayesian.Class, len(classes))
	for i, c := range classes {
		labels[i] = bayesian.Class(c)
	}

	m := &bayesModel{
		nb:      bayesian.NewClassifierTfIdf(labels...),
		vocab:   vocab,
		classes: classes,
	}
	for i, doc := range docs {
		m.nb.Learn(m.filter(doc), bayesian.Class(samples[i].Label))
	}
	m.nb.ConvertTermsFreqToTfIdf()
	return m, nil
}

// selectVocabulary keeps the terms whose document frequency lies within
// [MinDF, MaxDF*n], capped at the maxVocabulary most frequent ones
func selectVocabulary(docs [][]string, rules TrainingRules) map[string]bool {
	df := make(map[string]int)
	tf := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, t := range doc {
			tf[t]++
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}

	maxDF := int(math.Floor(rules.MaxDF * float64(len(docs))))
	var terms []string
	for t, d := range df {
		if d >= rules.MinDF && d <= maxDF {
			terms = append(terms, t)
		}
	}
	if len(terms) > maxVocabulary {
		sort.Slice(terms, func(i, j int) bool {
			if tf[terms[i]] != tf[terms[j]] {
				return tf[terms[i]] > tf[terms[j]]
			}
			return terms[i] < terms[j]
		})
		terms = terms[:maxVocabulary]
	}

	vocab := make(map[string]bool, len(terms))
	for _, t := range terms {
		vocab[t] = true
	}
	return vocab
}

func (m *bayesModel) filter(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if m.vocab[t] {
			out = append(out, t)
		}
	}
	return out
}

// predict returns class posteriors normalized from the classifier's log
// scores; ok is false when no token is in the vocabulary
func (m *bayesModel) predict(tokens []string) ([]float64, bool) {
	known := m.filter(tokens)
	if len(known) == 0 {
		return nil, false
	}

	scores, _, _ := m.nb.LogScores(known)
	maxLL := math.Inf(-1)
	for _, ll := range scores {
		maxLL = math.Max(maxLL, ll)
	}
	if math.IsInf(maxLL, -1) || math.IsNaN(maxLL) {
		return nil, false
	}

	probs := make([]float64, len(scores))
	sum := 0.0
	for i, ll := range scores {
		probs[i] = math.Exp(ll - maxLL)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs, true
}

func argmaxIndex(values []float64) int {
	best := 0
	for i := range values {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

func containsType(types []DocumentType, dt DocumentType) bool {
	for _, t := range types {
		if t == dt {
			return true
		}
	}
	return false
}
