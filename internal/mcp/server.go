package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/a3tai/pdf-doc-classifier/internal/config"
	"github.com/a3tai/pdf-doc-classifier/internal/descriptions"
	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/a3tai/pdf-doc-classifier/internal/metadata"
	"github.com/a3tai/pdf-doc-classifier/internal/pdf"
	"github.com/a3tai/pdf-doc-classifier/internal/suppliers"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Recorder receives tool call and batch document outcomes
type Recorder interface {
	ObserveToolCall(tool string, err error)
	ObserveDocument(status string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveToolCall(string, error) {}
func (nopRecorder) ObserveDocument(string)        {}

// Dependencies are the services the tools operate on
type Dependencies struct {
	Classifier *intelligence.Classifier
	Suppliers  *suppliers.Store
	Reader     *pdf.Reader
	Validator  *pdf.Validator
	Logger     zerolog.Logger
	Recorder   Recorder
}

// Server represents the MCP server instance
type Server struct {
	config     *config.Config
	classifier *intelligence.Classifier
	suppliers  *suppliers.Store
	reader     *pdf.Reader
	validator  *pdf.Validator
	extractor  *metadata.Extractor
	guard      *pdf.PathGuard
	logger     zerolog.Logger
	recorder   Recorder
	mcpServer  *server.MCPServer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if deps.Suppliers == nil {
		return nil, fmt.Errorf("supplier store cannot be nil")
	}

	logger := deps.Logger.With().Str("component", "mcp").Logger()
	if deps.Reader == nil {
		deps.Reader = pdf.NewReader(cfg.MaxFileSize, deps.Logger)
	}
	if deps.Validator == nil {
		deps.Validator = pdf.NewValidator(cfg.MaxFileSize, deps.Logger)
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false), // the tool set is fixed
	)

	s := &Server{
		config:     cfg,
		classifier: deps.Classifier,
		suppliers:  deps.Suppliers,
		reader:     deps.Reader,
		validator:  deps.Validator,
		extractor:  metadata.NewExtractor(deps.Logger),
		guard:      pdf.NewPathGuard(cfg.PDFDirectory),
		logger:     logger,
		recorder:   deps.Recorder,
		mcpServer:  mcpServer,
	}

	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.addTool(mcp.NewTool(
		"classify_document",
		mcp.WithDescription(descriptions.ClassifyDocumentDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the PDF file, relative to the document directory or absolute inside it"),
		),
	), s.handleClassifyDocument)

	s.addTool(mcp.NewTool(
		"classify_text",
		mcp.WithDescription(descriptions.ClassifyTextDescription),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Document text to classify"),
		),
	), s.handleClassifyText)

	s.addTool(mcp.NewTool(
		"analyze_document",
		mcp.WithDescription(descriptions.AnalyzeDocumentDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the PDF file"),
		),
	), s.handleAnalyzeDocument)

	s.addTool(mcp.NewTool(
		"classify_directory",
		mcp.WithDescription(descriptions.ClassifyDirectoryDescription),
		mcp.WithString("directory",
			mcp.Description("Directory to classify (uses the document directory if empty)"),
		),
		mcp.WithBoolean("recursive",
			mcp.Description("Descend into subdirectories"),
		),
		mcp.WithString("export",
			mcp.Description("Optional .xlsx, .json or .csv report path"),
		),
	), s.handleClassifyDirectory)

	s.addTool(mcp.NewTool(
		"search_suppliers",
		mcp.WithDescription(descriptions.SearchSuppliersDescription),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Name fragment or CUIT"),
		),
	), s.handleSearchSuppliers)

	s.addTool(mcp.NewTool(
		"add_supplier",
		mcp.WithDescription(descriptions.AddSupplierDescription),
		mcp.WithString("supplier_id",
			mcp.Required(),
			mcp.Description("Unique supplier id, e.g. acme"),
		),
		mcp.WithString("names",
			mcp.Required(),
			mcp.Description("Comma separated names printed on the supplier's documents"),
		),
		mcp.WithString("cuit",
			mcp.Description("Supplier CUIT in XX-XXXXXXXX-X form"),
		),
		mcp.WithString("phone",
			mcp.Description("Contact phone"),
		),
		mcp.WithString("email",
			mcp.Description("Contact email"),
		),
	), s.handleAddSupplier)

	s.addTool(mcp.NewTool(
		"update_supplier_patterns",
		mcp.WithDescription(descriptions.UpdateSupplierPatternsDescription),
		mcp.WithString("supplier_id",
			mcp.Required(),
			mcp.Description("Supplier id"),
		),
		mcp.WithString("document_type",
			mcp.Required(),
			mcp.Description("Document type the patterns belong to, e.g. facturas"),
		),
		mcp.WithString("terms",
			mcp.Description("Comma separated specific terms"),
		),
		mcp.WithString("layout_indicators",
			mcp.Description("Comma separated layout indicators"),
		),
	), s.handleUpdateSupplierPatterns)

	s.addTool(mcp.NewTool(
		"classifier_status",
		mcp.WithDescription(descriptions.ClassifierStatusDescription),
	), s.handleClassifierStatus)
}

// addTool registers h under tool's name
func (s *Server) addTool(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, s.instrument(tool.Name, h))
}

// instrument wraps h so that every call and tool error is recorded
func (s *Server) instrument(name string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		result, err := h(ctx, request)

		callErr := err
		if callErr == nil && result != nil && result.IsError {
			callErr = errors.New("tool error")
		}
		s.recorder.ObserveToolCall(name, callErr)
		s.logger.Debug().
			Str("tool", name).
			Bool("error", callErr != nil).
			Dur("elapsed", time.Since(start)).
			Msg("tool call")
		return result, err
	}
}

// Run starts the MCP server in the configured mode and blocks until ctx is
// done or the transport closes
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsServerMode() {
		return s.runServerMode(ctx)
	}
	return s.runStdioMode(ctx)
}

// runStdioMode serves MCP over stdin/stdout
func (s *Server) runStdioMode(ctx context.Context) error {
	s.logger.Info().Str("dir", s.config.PDFDirectory).Msg("serving MCP over stdio")

	stdio := server.NewStdioServer(s.mcpServer)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves MCP over HTTP with server-sent events
func (s *Server) runServerMode(ctx context.Context) error {
	addr := s.config.Address()
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("serving MCP over HTTP")
		errCh <- sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}
		return nil
	}
}
