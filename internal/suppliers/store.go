// Package suppliers persists the known-supplier database used to recognize
// the counterparty of a document.
package suppliers

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

//go:embed defaults.json
var defaultDatabase []byte

var (
	// ErrUnknownSupplier is returned for operations on a supplier id not in the store
	ErrUnknownSupplier = errors.New("unknown supplier")
	// ErrInvalidRecord is returned when a record cannot be stored
	ErrInvalidRecord = errors.New("invalid supplier record")
)

// DefaultPatternBoost is the boost of a document pattern created through UpdatePatterns
const DefaultPatternBoost = 0.1

// DocumentPatterns are the terms a supplier prints on one document type
type DocumentPatterns struct {
	SpecificTerms    []string `json:"specific_terms"`
	LayoutIndicators []string `json:"layout_indicators"`
	ConfidenceBoost  float64  `json:"confidence_boost"`
}

// Record describes one known supplier
type Record struct {
	ID          string                      `json:"-"`
	Names       []string                    `json:"names"`
	CUIT        string                      `json:"cuit"`
	Patterns    map[string]DocumentPatterns `json:"document_patterns"`
	ContactInfo map[string]string           `json:"contact_info,omitempty"`
}

// SearchResult is one supplier matching a search query
type SearchResult struct {
	ID     string  `json:"id"`
	Record Record  `json:"data"`
	Score  float64 `json:"match_score"`
}

// Store is a JSON-file backed supplier database. Reads are concurrent;
// writes are serialized and persisted before they return.
type Store struct {
	mu      sync.RWMutex
	path    string
	records map[string]Record
	logger  zerolog.Logger
}

// Open loads the database at path. A missing file is seeded with the
// default suppliers and written; a corrupt file is an error. An empty path
// keeps the database in memory only.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.With().Str("component", "supplier_store").Logger(),
	}

	if path == "" {
		records, err := decode(defaultDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to decode default suppliers: %w", err)
		}
		s.records = records
		return s, nil
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		records, err := decode(defaultDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to decode default suppliers: %w", err)
		}
		s.records = records
		if err := s.save(); err != nil {
			return nil, err
		}
		s.logger.Info().Str("path", path).Int("suppliers", len(records)).Msg("seeded supplier database")
	case err != nil:
		return nil, fmt.Errorf("failed to read supplier database: %w", err)
	default:
		records, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse supplier database %s: %w", path, err)
		}
		s.records = records
		s.logger.Info().Str("path", path).Int("suppliers", len(records)).Msg("loaded supplier database")
	}

	return s, nil
}

// NewMemory returns an in-memory store holding the given records
func NewMemory(records ...Record) *Store {
	s := &Store{
		records: make(map[string]Record, len(records)),
		logger:  zerolog.Nop(),
	}
	for _, r := range records {
		s.records[r.ID] = r.clone()
	}
	return s
}

func decode(data []byte) (map[string]Record, error) {
	var raw map[string]Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = make(map[string]Record)
	}
	for id, r := range raw {
		r.ID = id
		if r.Patterns == nil {
			r.Patterns = make(map[string]DocumentPatterns)
		}
		raw[id] = r
	}
	return raw, nil
}

// Path returns the backing file, empty for in-memory stores
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of suppliers
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get returns a copy of the supplier with the given id
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// All returns copies of every supplier sorted by id
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.records[id].clone())
	}
	return out
}

// Suppliers returns every supplier sorted by id
func (s *Store) Suppliers() ([]Record, error) {
	return s.All(), nil
}

// Add inserts or replaces a supplier and persists the database
func (s *Store) Add(r Record) error {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if len(r.Names) == 0 {
		return fmt.Errorf("%w: supplier %s has no names", ErrInvalidRecord, r.ID)
	}
	r = r.clone()
	if r.Patterns == nil {
		r.Patterns = make(map[string]DocumentPatterns)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.records[r.ID]
	s.records[r.ID] = r
	if err := s.save(); err != nil {
		if existed {
			s.records[r.ID] = prev
		} else {
			delete(s.records, r.ID)
		}
		return err
	}
	s.logger.Info().Str("supplier", r.ID).Msg("supplier added")
	return nil
}

// UpdatePatterns merges new terms and layout indicators into a supplier's
// patterns for docType, creating the entry with DefaultPatternBoost.
// Duplicates are detected case-insensitively.
func (s *Store) UpdatePatterns(id, docType string, terms, indicators []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSupplier, id)
	}
	prev := r.clone()

	r = r.clone()
	p, ok := r.Patterns[docType]
	if !ok {
		p = DocumentPatterns{
			SpecificTerms:    []string{},
			LayoutIndicators: []string{},
			ConfidenceBoost:  DefaultPatternBoost,
		}
	}
	p.SpecificTerms = mergeUnique(p.SpecificTerms, terms)
	p.LayoutIndicators = mergeUnique(p.LayoutIndicators, indicators)
	r.Patterns[docType] = p
	s.records[id] = r

	if err := s.save(); err != nil {
		s.records[id] = prev
		return err
	}
	s.logger.Info().Str("supplier", id).Str("type", docType).Msg("supplier patterns updated")
	return nil
}

// Search finds suppliers whose CUIT (score 1.0) or any name (score 0.8)
// contains query, case-insensitively. Results are sorted by score.
func (s *Store) Search(query string) []SearchResult {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" {
		return []SearchResult{}
	}

	results := []SearchResult{}
	for _, r := range s.All() {
		cuitMatch := strings.Contains(strings.ToUpper(r.CUIT), q)
		nameMatch := false
		for _, n := range r.Names {
			if strings.Contains(strings.ToUpper(n), q) {
				nameMatch = true
				break
			}
		}
		switch {
		case cuitMatch:
			results = append(results, SearchResult{ID: r.ID, Record: r, Score: 1.0})
		case nameMatch:
			results = append(results, SearchResult{ID: r.ID, Record: r, Score: 0.8})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// save writes the database atomically. Callers hold the write lock.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode supplier database: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create supplier database directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".suppliers-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write supplier database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close supplier database: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace supplier database: %w", err)
	}
	return nil
}

func (r Record) clone() Record {
	out := Record{
		ID:    r.ID,
		Names: append([]string(nil), r.Names...),
		CUIT:  r.CUIT,
	}
	if r.Patterns != nil {
		out.Patterns = make(map[string]DocumentPatterns, len(r.Patterns))
		for k, p := range r.Patterns {
			out.Patterns[k] = DocumentPatterns{
				SpecificTerms:    append([]string{}, p.SpecificTerms...),
				LayoutIndicators: append([]string{}, p.LayoutIndicators...),
				ConfidenceBoost:  p.ConfidenceBoost,
			}
		}
	}
	if r.ContactInfo != nil {
		out.ContactInfo = make(map[string]string, len(r.ContactInfo))
		for k, v := range r.ContactInfo {
			out.ContactInfo[k] = v
		}
	}
	return out
}

func mergeUnique(existing, add []string) []string {
	seen := make(map[string]bool, len(existing)+len(add))
	for _, v := range existing {
		seen[strings.ToUpper(v)] = true
	}
	for _, v := range add {
		key := strings.ToUpper(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		existing = append(existing, v)
	}
	return existing
}
