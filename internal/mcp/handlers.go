package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/a3tai/pdf-doc-classifier/internal/batch"
	"github.com/a3tai/pdf-doc-classifier/internal/export"
	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/a3tai/pdf-doc-classifier/internal/metadata"
	"github.com/a3tai/pdf-doc-classifier/internal/pdf"
	"github.com/a3tai/pdf-doc-classifier/internal/suppliers"
	"github.com/mark3labs/mcp-go/mcp"
)

// Handler functions
func (s *Server) handleClassifyDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resolved, text, err := s.readDocument(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.classifier.Classify(ctx, intelligence.Input{Text: text, Geometry: s.reader.Geometry(resolved)})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("classification failed: %v", err)), nil
	}

	md := s.extractor.Extract(text)
	responseText := fmt.Sprintf("Document: %s\n", resolved)
	responseText += s.formatClassification(rec)
	responseText += formatMetadata(md)
	return mcp.NewToolResultText(responseText), nil
}

func (s *Server) handleClassifyText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("text cannot be empty"), nil
	}

	rec, err := s.classifier.Classify(ctx, intelligence.Input{Text: text})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("classification failed: %v", err)), nil
	}
	return mcp.NewToolResultText(s.formatClassification(rec)), nil
}

type analysisResponse struct {
	Path       string                         `json:"path"`
	Validation *pdf.ValidationResult          `json:"validation"`
	Metadata   metadata.Metadata              `json:"metadata"`
	Analysis   *intelligence.DetailedAnalysis `json:"analysis"`
}

func (s *Server) handleAnalyzeDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resolved, err := s.guard.Resolve(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	validation, err := s.validator.Validate(ctx, resolved)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !validation.Valid {
		return mcp.NewToolResultError(fmt.Sprintf("PDF validation failed for %s: %s", resolved, validation.Message)), nil
	}

	_, text, err := s.readDocument(ctx, resolved)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	analysis, err := s.classifier.DetailedAnalysis(ctx, intelligence.Input{Text: text, Geometry: s.reader.Geometry(resolved)})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(analysisResponse{
		Path:       resolved,
		Validation: validation,
		Metadata:   s.extractor.Extract(text),
		Analysis:   analysis,
	}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode analysis: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleClassifyDirectory(ctx context.Context, request mcp.CallToolRequest) (
	*mcp.CallToolResult, error,
) {
	args := request.GetArguments()

	directory := s.config.PDFDirectory // default
	if dir, ok := args["directory"].(string); ok && dir != "" {
		directory = dir
	}
	directory, err := s.guard.Resolve(directory)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	recursive := s.config.Recursive
	if r, ok := args["recursive"].(bool); ok {
		recursive = r
	}

	exportPath := ""
	if e, ok := args["export"].(string); ok && e != "" {
		if _, err := export.FormatFromPath(e); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if exportPath, err = s.guard.Resolve(e); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	processor := batch.NewProcessor(batch.Config{
		Workers:     s.config.Workers,
		BatchSize:   s.config.BatchSize,
		DocTimeout:  s.config.DocTimeout,
		MaxFileSize: s.config.MaxFileSize,
		Recursive:   recursive,
	}, s.classifier, s.reader, batch.WithLogger(s.logger), batch.WithRecorder(s.recorder))

	report, err := processor.ProcessDirectory(ctx, directory)
	if errors.Is(err, batch.ErrNoDocuments) {
		return mcp.NewToolResultText(fmt.Sprintf("No PDF files found in directory: %s", directory)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	responseText := formatReport(report)
	if exportPath != "" {
		if err := export.WriteFile(exportPath, report); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("classified %d documents but export failed: %v",
				report.Summary.Total, err)), nil
		}
		responseText += fmt.Sprintf("\nReport exported to: %s\n", exportPath)
	}
	return mcp.NewToolResultText(responseText), nil
}

func (s *Server) handleSearchSuppliers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results := s.suppliers.Search(query)
	if len(results) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No suppliers match %q", query)), nil
	}

	text := fmt.Sprintf("Found %d supplier(s) matching %q\n", len(results), query)
	for i, r := range results {
		text += fmt.Sprintf("\n%d. %s (score %.1f)\n", i+1, r.ID, r.Score)
		text += fmt.Sprintf("   Names: %s\n", strings.Join(r.Record.Names, ", "))
		if r.Record.CUIT != "" {
			text += fmt.Sprintf("   CUIT: %s\n", r.Record.CUIT)
		}
		if types := patternTypes(r.Record); len(types) > 0 {
			text += fmt.Sprintf("   Document patterns: %s\n", strings.Join(types, ", "))
		}
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleAddSupplier(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("supplier_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawNames, err := request.RequireString("names")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := request.GetArguments()
	record := suppliers.Record{
		ID:          id,
		Names:       splitList(rawNames),
		ContactInfo: map[string]string{},
	}

	var warnings []string
	if cuit, ok := args["cuit"].(string); ok && cuit != "" {
		cuit = strings.TrimSpace(cuit)
		if metadata.CUIT(cuit) != cuit {
			return mcp.NewToolResultError(fmt.Sprintf("CUIT %q must have the form XX-XXXXXXXX-X", cuit)), nil
		}
		if !metadata.ValidCUIT(cuit) {
			warnings = append(warnings, fmt.Sprintf("CUIT %s has an invalid check digit", cuit))
		}
		record.CUIT = cuit
	}
	for _, key := range []string{"phone", "email"} {
		if v, ok := args[key].(string); ok && v != "" {
			record.ContactInfo[key] = v
		}
	}

	if err := s.suppliers.Add(record); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	text := fmt.Sprintf("Supplier %s saved with %d name(s)\n", record.ID, len(record.Names))
	for _, w := range warnings {
		text += fmt.Sprintf("Warning: %s\n", w)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleUpdateSupplierPatterns(ctx context.Context, request mcp.CallToolRequest) (
	*mcp.CallToolResult, error,
) {
	id, err := request.RequireString("supplier_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawType, err := request.RequireString("document_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dt, err := intelligence.ParseDocumentType(rawType)
	if err != nil || !dt.IsKnown() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown document type %q", rawType)), nil
	}

	args := request.GetArguments()
	terms, _ := args["terms"].(string)
	indicators, _ := args["layout_indicators"].(string)
	termList, indicatorList := splitList(terms), splitList(indicators)
	if len(termList) == 0 && len(indicatorList) == 0 {
		return mcp.NewToolResultError("at least one term or layout indicator is required"), nil
	}

	if err := s.suppliers.UpdatePatterns(id, string(dt), termList, indicatorList); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	record, _ := s.suppliers.Get(id)
	p := record.Patterns[string(dt)]
	text := fmt.Sprintf("Updated %s patterns for supplier %s\n", dt, id)
	text += fmt.Sprintf("Specific terms: %s\n", strings.Join(p.SpecificTerms, ", "))
	text += fmt.Sprintf("Layout indicators: %s\n", strings.Join(p.LayoutIndicators, ", "))
	text += fmt.Sprintf("Confidence boost: %.2f\n", p.ConfidenceBoost)
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleClassifierStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.classifier.Status()

	text := fmt.Sprintf("%s v%s - Classifier Status\n", s.config.ServerName, s.config.Version)
	text += fmt.Sprintf("Document directory: %s\n", s.guard.Root())
	text += fmt.Sprintf("Thresholds: min %.2f, high %.2f\n\n", st.MinConfidence, st.HighConfidence)

	text += "Methods:\n"
	for _, m := range append(intelligence.AllMethods(), intelligence.MethodSupplier) {
		ms := st.Methods[m]
		state := "disabled"
		if ms.Available {
			state = "available"
			if !ms.Trained {
				state = "available (untrained)"
			}
		}
		text += fmt.Sprintf("  %-10s weight %.2f  %s", m, ms.Weight, state)
		if m == intelligence.MethodSupplier {
			text += fmt.Sprintf(", %d suppliers", ms.SuppliersCount)
		}
		text += "\n"
	}

	if len(st.Priority) > 0 {
		text += "\nPriority overrides:\n"
		for i, p := range st.Priority {
			text += fmt.Sprintf("  %d. %s (confidence >= %.2f, %s threshold %.2f, bonus %.2f)\n",
				i+1, p.Method, p.MinConfidence, p.Label, p.DomainThreshold, p.Bonus)
		}
	}

	if b := s.classifier.Statistical(); b != nil && b.Trained() {
		r := b.Report()
		text += fmt.Sprintf("\nStatistical model: %d samples, %d features, %d classes, training accuracy %.2f\n",
			r.Samples, r.Features, len(r.Classes), r.Accuracy)
	}
	return mcp.NewToolResultText(text), nil
}

// readDocument resolves path inside the document directory and extracts its text
func (s *Server) readDocument(ctx context.Context, path string) (string, string, error) {
	resolved, err := s.guard.Resolve(path)
	if err != nil {
		return "", "", err
	}
	text, err := s.reader.ExtractText(ctx, resolved)
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", resolved, err)
	}
	if text == "" {
		return "", "", fmt.Errorf("no extractable text in %s, it may be a scanned document", resolved)
	}
	return resolved, text, nil
}

// Formatting methods
func (s *Server) formatClassification(rec *intelligence.ClassificationRecord) string {
	cfg := s.classifier.Config()
	text := fmt.Sprintf("Type: %s (%s)\n", rec.Type, rec.Type.DisplayName())
	text += fmt.Sprintf("Confidence: %.3f (%s)\n", rec.Confidence,
		intelligence.ConfidenceBand(rec.Confidence, cfg.MinConfidence, cfg.HighConfidence))
	if rec.PriorityOverride != "" {
		text += fmt.Sprintf("Priority override: %s (+%.2f)\n", rec.PriorityOverride, rec.PriorityBonus)
	}
	if rec.Supplier != nil {
		text += fmt.Sprintf("Supplier: %s (%.2f)\n", rec.Supplier.ID, rec.Supplier.Confidence)
	}
	text += fmt.Sprintf("Reasoning: %s\n", rec.Reasoning)

	text += "\nMethods:\n"
	for _, m := range intelligence.AllMethods() {
		r, ok := rec.Methods[m]
		if !ok {
			continue
		}
		if r.Failed() {
			text += fmt.Sprintf("  %-10s error: %s\n", m, r.Error)
			continue
		}
		text += fmt.Sprintf("  %-10s %-20s %.3f\n", m, r.Type, r.Confidence)
	}
	return text
}

func formatMetadata(md metadata.Metadata) string {
	text := "\nMetadata:\n"
	if md.CUIT != "" {
		valid := "valid"
		if !md.CUITValid {
			valid = "invalid check digit"
		}
		text += fmt.Sprintf("  CUIT: %s (%s)\n", md.CUIT, valid)
	}
	if md.Supplier != "" {
		text += fmt.Sprintf("  Supplier: %s\n", md.Supplier)
	}
	if md.DocumentNumber != "" {
		text += fmt.Sprintf("  Document number: %s\n", md.DocumentNumber)
	}
	if len(md.Dates) > 0 {
		text += fmt.Sprintf("  Dates: %s\n", strings.Join(md.Dates, ", "))
	}
	if len(md.Amounts) > 0 {
		text += fmt.Sprintf("  Amounts: %s\n", strings.Join(md.Amounts, ", "))
	}
	return text
}

func formatReport(report *batch.Report) string {
	sum := report.Summary
	text := "Batch Classification Report\n"
	text += fmt.Sprintf("Batch: %s\n", sum.BatchID)
	text += fmt.Sprintf("Directory: %s\n", sum.Directory)
	text += fmt.Sprintf("Documents: %d (classified %d, failed %d, timed out %d)\n",
		sum.Total, sum.Succeeded, sum.Failed, sum.TimedOut)
	text += fmt.Sprintf("Elapsed: %d ms\n", sum.ElapsedMS)

	if len(sum.ByType) > 0 {
		types := make([]intelligence.DocumentType, 0, len(sum.ByType))
		for dt := range sum.ByType {
			types = append(types, dt)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

		text += "\nBy type:\n"
		for _, dt := range types {
			text += fmt.Sprintf("  %s: %d\n", dt, sum.ByType[dt])
		}
	}

	text += "\nFiles:\n"
	for i, r := range report.Results {
		if r.Status == batch.StatusClassified {
			text += fmt.Sprintf("%d. %s: %s (%.3f)\n", i+1, filepath.Base(r.Path), r.Type(), r.Confidence())
			continue
		}
		text += fmt.Sprintf("%d. %s: %s - %s\n", i+1, filepath.Base(r.Path), r.Status, r.Error)
	}
	return text
}

func patternTypes(r suppliers.Record) []string {
	types := make([]string, 0, len(r.Patterns))
	for dt := range r.Patterns {
		types = append(types, dt)
	}
	sort.Strings(types)
	return types
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
