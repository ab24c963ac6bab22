package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/a3tai/pdf-doc-classifier/internal/intelligence"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio    = "stdio"
	ModeServer   = "server"
	ModeBatch    = "batch"
	ModeClassify = "classify"

	// Default values
	DefaultPort        = 8080
	DefaultHost        = "127.0.0.1"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultMaxFileSize = 50 * 1024 * 1024 // 50MB
	DefaultWorkers     = 4
	DefaultBatchSize   = 1
	DefaultDocTimeout  = 30 * time.Second

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "PDF_CLASSIFIER"
)

// ErrVersionRequested is returned by Load when --version is present
var ErrVersionRequested = errors.New("version requested")

// Config holds all configuration for the classifier
type Config struct {
	// Server configuration
	Mode string // stdio, server, batch or classify
	Host string
	Port int

	// Input configuration
	PDFDirectory string
	File         string
	Recursive    bool
	MaxFileSize  int64 // Maximum PDF file size in bytes

	// Data files
	SuppliersDB string
	RulesFile   string
	ConfigFile  string

	// Batch configuration
	Workers    int
	BatchSize  int
	DocTimeout time.Duration
	ExportPath string

	// Classifier configuration
	EnableML         bool
	EnableLayout     bool
	EnableAgro       bool
	EnableCommercial bool
	Weights          map[intelligence.Method]float64
	Priority         []intelligence.Method
	MinConfidence    float64
	HighConfidence   float64

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	arb := intelligence.DefaultArbitrationConfig()
	return &Config{
		Mode:             ModeStdio,
		Host:             DefaultHost,
		Port:             DefaultPort,
		PDFDirectory:     currentDir,
		MaxFileSize:      DefaultMaxFileSize,
		Workers:          DefaultWorkers,
		BatchSize:        DefaultBatchSize,
		DocTimeout:       DefaultDocTimeout,
		EnableML:         true,
		EnableLayout:     true,
		EnableAgro:       true,
		EnableCommercial: true,
		Weights:          make(map[intelligence.Method]float64),
		MinConfidence:    arb.MinConfidence,
		HighConfidence:   arb.HighConfidence,
		Version:          "1.0.0",
		ServerName:       "pdf-doc-classifier",
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
	}
}

// LoadFromFlags parses the process command line and environment
func LoadFromFlags() (*Config, error) {
	return Load(os.Args[1:])
}

// Load builds a configuration from args, PDF_CLASSIFIER_* environment
// variables and an optional config file, in decreasing precedence.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	for _, arg := range args {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return nil, ErrVersionRequested
		}
	}

	v := viper.New()
	fs := pflag.NewFlagSet("pdf-doc-classifier", pflag.ContinueOnError)
	setupViperEnvironment(v, cfg)
	defineCommandLineFlags(fs, cfg)
	setupUsageMessage(fs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := populateConfigFromViper(v, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.PDFDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.PDFDirectory); err == nil {
			cfg.PDFDirectory = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupViperEnvironment configures environment lookup and defaults
func setupViperEnvironment(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("dir", cfg.PDFDirectory)
	v.SetDefault("max-file-size", cfg.MaxFileSize)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("batch-size", cfg.BatchSize)
	v.SetDefault("doc-timeout", cfg.DocTimeout)
	v.SetDefault("log-level", cfg.LogLevel)
	v.SetDefault("log-format", cfg.LogFormat)
	v.SetDefault("min-confidence", cfg.MinConfidence)
	v.SetDefault("high-confidence", cfg.HighConfidence)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.String("mode", cfg.Mode, "Run mode: stdio (MCP over stdio), server (MCP over HTTP), batch or classify")
	fs.String("host", cfg.Host, "Server host address (server mode only)")
	fs.Int("port", cfg.Port, "Server port (server mode only)")
	fs.String("dir", cfg.PDFDirectory, "Directory containing PDF documents")
	fs.String("file", "", "PDF file to classify (classify mode)")
	fs.Bool("recursive", false, "Descend into subdirectories in batch mode")
	fs.Int64("max-file-size", cfg.MaxFileSize, "Maximum PDF file size in bytes")
	fs.String("suppliers-db", "", "Path to the supplier catalog JSON file (built-in catalog when empty)")
	fs.String("rules-file", "", "YAML overlay with extra keywords and patterns")
	fs.String("config", "", "Optional configuration file (yaml, json or toml)")
	fs.Int("workers", cfg.Workers, "Number of concurrent batch workers")
	fs.Int("batch-size", cfg.BatchSize, "Documents handed to a worker at once")
	fs.Duration("doc-timeout", cfg.DocTimeout, "Per-document classification timeout")
	fs.String("export", "", "Write the batch report to this .xlsx, .json or .csv file")
	fs.Bool("enable-ml", cfg.EnableML, "Enable the naive Bayes scorer")
	fs.Bool("enable-layout", cfg.EnableLayout, "Enable the first-page layout scorer")
	fs.Bool("enable-agro", cfg.EnableAgro, "Enable the agricultural scorer")
	fs.Bool("enable-commercial", cfg.EnableCommercial, "Enable the commercial/financial scorer")
	fs.String("weights", "", "Method weight overrides, e.g. keyword=0.2,agro=0.3")
	fs.String("priority", "", "Priority override order, e.g. commercial,agro")
	fs.Float64("min-confidence", cfg.MinConfidence, "Minimum confidence to accept a classification")
	fs.Float64("high-confidence", cfg.HighConfidence, "Confidence reported as high")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("log-format", cfg.LogFormat, "Log format (json, console)")
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage(fs *pflag.FlagSet) {
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nPDF Document Classifier - ensemble classification of Argentine business documents\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --dir=/path/to/pdfs                          # MCP server on stdio\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --port=8081                    # MCP server over HTTP\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=batch --dir=/pdfs --export=out.xlsx   # classify a directory\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=classify --file=factura.pdf           # classify one file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  Every flag can be set as %s_<FLAG>, e.g. %s_LOG_LEVEL=debug\n", envPrefix, envPrefix)
	}
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(v *viper.Viper, cfg *Config) error {
	cfg.Mode = v.GetString("mode")
	cfg.Host = v.GetString("host")
	cfg.Port = v.GetInt("port")
	cfg.PDFDirectory = v.GetString("dir")
	cfg.File = v.GetString("file")
	cfg.Recursive = v.GetBool("recursive")
	cfg.MaxFileSize = v.GetInt64("max-file-size")
	cfg.SuppliersDB = v.GetString("suppliers-db")
	cfg.RulesFile = v.GetString("rules-file")
	cfg.ConfigFile = v.GetString("config")
	cfg.Workers = v.GetInt("workers")
	cfg.BatchSize = v.GetInt("batch-size")
	cfg.DocTimeout = v.GetDuration("doc-timeout")
	cfg.ExportPath = v.GetString("export")
	cfg.EnableML = v.GetBool("enable-ml")
	cfg.EnableLayout = v.GetBool("enable-layout")
	cfg.EnableAgro = v.GetBool("enable-agro")
	cfg.EnableCommercial = v.GetBool("enable-commercial")
	cfg.MinConfidence = v.GetFloat64("min-confidence")
	cfg.HighConfidence = v.GetFloat64("high-confidence")
	cfg.MetricsAddr = v.GetString("metrics-addr")
	cfg.LogLevel = v.GetString("log-level")
	cfg.LogFormat = v.GetString("log-format")

	weights, err := weightsFromValue(v.Get("weights"))
	if err != nil {
		return err
	}
	cfg.Weights = weights

	priority, err := ParsePriority(v.GetString("priority"))
	if err != nil {
		return err
	}
	cfg.Priority = priority
	return nil
}

func weightsFromValue(raw any) (map[intelligence.Method]float64, error) {
	switch val := raw.(type) {
	case nil:
		return map[intelligence.Method]float64{}, nil
	case string:
		return ParseWeights(val)
	case map[string]any:
		out := make(map[intelligence.Method]float64, len(val))
		for k, x := range val {
			m, err := intelligence.ParseMethod(k)
			if err != nil {
				return nil, err
			}
			f, err := strconv.ParseFloat(fmt.Sprint(x), 64)
			if err != nil {
				return nil, fmt.Errorf("weight for %s: %w", k, err)
			}
			out[m] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported weights value of type %T", raw)
}

// ParseWeights parses "method=weight" pairs separated by commas
func ParseWeights(s string) (map[intelligence.Method]float64, error) {
	out := make(map[intelligence.Method]float64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("weight %q must have the form method=value", pair)
		}
		m, err := intelligence.ParseMethod(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("weight for %s: %w", name, err)
		}
		out[m] = f
	}
	return out, nil
}

// ParsePriority parses a comma separated priority order of sector scorers
func ParsePriority(s string) ([]intelligence.Method, error) {
	var out []intelligence.Method
	seen := make(map[intelligence.Method]bool)
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		m := intelligence.Method(name)
		if m != intelligence.MethodAgro && m != intelligence.MethodCommercial {
			return nil, fmt.Errorf("priority method must be agro or commercial, got %q", name)
		}
		if seen[m] {
			return nil, fmt.Errorf("priority method %q listed twice", name)
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeStdio, ModeServer, ModeBatch, ModeClassify:
	default:
		return fmt.Errorf("mode must be one of stdio, server, batch, classify (got %q)", c.Mode)
	}

	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	switch c.Mode {
	case ModeClassify:
		if c.File == "" {
			return errors.New("classify mode requires --file")
		}
	case ModeBatch:
		info, err := os.Stat(c.PDFDirectory)
		if err != nil {
			return fmt.Errorf("cannot access PDF directory %s: %w", c.PDFDirectory, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("PDF directory %s is not a directory", c.PDFDirectory)
		}
	default:
		if c.PDFDirectory == "" {
			return errors.New("PDF directory cannot be empty")
		}
		// The MCP modes confine tool paths to this directory, so create it if needed
		if _, err := os.Stat(c.PDFDirectory); os.IsNotExist(err) {
			if err := os.MkdirAll(c.PDFDirectory, DefaultDirPerm); err != nil {
				return fmt.Errorf("cannot create PDF directory %s: %w", c.PDFDirectory, err)
			}
		} else if err != nil {
			return fmt.Errorf("cannot access PDF directory %s: %w", c.PDFDirectory, err)
		}
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.BatchSize < 1 {
		return errors.New("batch size must be at least 1")
	}
	if c.DocTimeout <= 0 {
		return errors.New("document timeout must be positive")
	}

	if c.ExportPath != "" {
		switch strings.ToLower(filepath.Ext(c.ExportPath)) {
		case ".xlsx", ".json", ".csv":
		default:
			return fmt.Errorf("export path %s must end in .xlsx, .json or .csv", c.ExportPath)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	if _, err := c.Arbitration(); err != nil {
		return err
	}
	return nil
}

// Arbitration returns the engine configuration with overrides applied
func (c *Config) Arbitration() (intelligence.ArbitrationConfig, error) {
	arb := intelligence.DefaultArbitrationConfig()
	for m, w := range c.Weights {
		arb.Weights[m] = w
	}
	arb.MinConfidence = c.MinConfidence
	arb.HighConfidence = c.HighConfidence
	arb.EnableML = c.EnableML
	arb.EnableLayout = c.EnableLayout
	arb.EnableAgro = c.EnableAgro
	arb.EnableCommercial = c.EnableCommercial

	if len(c.Priority) > 0 {
		byMethod := make(map[intelligence.Method]intelligence.PriorityRule)
		for _, r := range arb.Priority {
			byMethod[r.Method] = r
		}
		ordered := make([]intelligence.PriorityRule, 0, len(c.Priority))
		for _, m := range c.Priority {
			ordered = append(ordered, byMethod[m])
		}
		arb.Priority = ordered
	}

	if err := arb.Validate(); err != nil {
		return intelligence.ArbitrationConfig{}, err
	}
	return arb, nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	methods := make([]string, 0, len(c.Weights))
	for m, w := range c.Weights {
		methods = append(methods, fmt.Sprintf("%s=%g", m, w))
	}
	sort.Strings(methods)
	return fmt.Sprintf("Config{Mode: %s, PDFDirectory: %s, File: %s, Workers: %d, DocTimeout: %s, "+
		"MaxFileSize: %d, LogLevel: %s, Weights: [%s]}",
		c.Mode, c.PDFDirectory, c.File, c.Workers, c.DocTimeout,
		c.MaxFileSize, c.LogLevel, strings.Join(methods, ","))
}

// IsServerMode returns true if MCP is served over HTTP
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if MCP is served over stdio
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
