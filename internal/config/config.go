// =============================================================================
// Billing Reconciler - Configuration Module
// =============================================================================
//
// This module loads the main application configuration (config.yaml) and
// applies environment overrides on top of it.
//
// PRECEDENCE (highest first):
//   1. Environment variables (RECONCILER_*, LOG_*), usually from a .env file
//   2. Values in config.yaml
//   3. Built-in defaults (applyMainConfigDefaults)
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/billing-reconciler/internal/logger"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// CutoffLayout is the layout accepted for Ingest.CutoffDate.
const CutoffLayout = "2006-01-02"

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is scanned for billing exports (XLSX or CSV).
	// Default: "./input"
	InputDir string `yaml:"input_dir"`

	// OutputDir receives anomaly reports and XML exports.
	// Default: "./output"
	OutputDir string `yaml:"output_dir"`

	// InputArchiveDir receives input files after successful processing.
	// Default: "./input_archive"
	InputArchiveDir string `yaml:"input_archive_dir"`

	// InputPatterns are the glob patterns matched inside InputDir.
	// Default: ["*.xlsx", "*.csv"]
	InputPatterns []string `yaml:"input_patterns"`

	// =========================================================================
	// CATALOG AND STORE
	// =========================================================================

	// CatalogPath points at the catalog file (YAML or XLSX).
	// Default: "./catalog.yaml"
	CatalogPath string `yaml:"catalog_path"`

	// Store selects the invoice persistence backend.
	Store StoreConfig `yaml:"store"`

	// =========================================================================
	// INGESTION
	// =========================================================================

	// Ingest describes how raw rows are read and mapped.
	Ingest IngestConfig `yaml:"ingest"`

	// =========================================================================
	// OUTPUT SETTINGS
	// =========================================================================

	// OutputFileFormat defines the base name of generated files.
	// Placeholders:
	//   {uuid}      - A random UUID
	//   {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
	//   {source}    - Input file name without extension
	//   {kind}      - "report" or "export"
	// Default: "{source}_{kind}_{timestamp}"
	OutputFileFormat string `yaml:"output_file_format"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// MaxConcurrency bounds both concurrent files and concurrent invoice
	// recomputation.
	// Default: 4
	MaxConcurrency int `yaml:"max_concurrency"`

	// StopOnError aborts the run on the first failed file.
	// Default: false
	StopOnError bool `yaml:"stop_on_error"`

	// ArchiveInputs moves processed input files to InputArchiveDir.
	// Default: false
	ArchiveInputs bool `yaml:"archive_inputs"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	Log LogSettings `yaml:"log"`
}

// StoreConfig selects and configures the invoice store.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// DSN is the sqlite database path or DSN.
	// Default: "./reconciler.db"
	DSN string `yaml:"dsn"`
}

// LogSettings mirrors logger.LogConfig in YAML.
type LogSettings struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is "console" or "json".
	Format string `yaml:"format"`

	TimeFormat string `yaml:"time_format"`

	// Output is "stdout", "stderr" or a file path.
	Output string `yaml:"output"`
}

// =============================================================================
// INGESTION SETTINGS
// =============================================================================

// IngestConfig describes the billing export layout.
type IngestConfig struct {
	// Sheet is the workbook sheet to read. Empty means the first sheet.
	Sheet string `yaml:"sheet"`

	// HeaderRow is the 1-based row holding column headers.
	// Default: 1
	HeaderRow int `yaml:"header_row"`

	// CSV holds the CSV-specific settings.
	CSV CSVSettings `yaml:"csv"`

	// FieldMapping maps semantic fields to raw column headers.
	FieldMapping FieldMapping `yaml:"field_mapping"`

	// NormalizationRules are applied to raw values before aggregation.
	NormalizationRules []NormalizationRule `yaml:"normalization_rules"`

	// DateLayouts are tried in order when parsing the date column. Excel
	// serial dates are always accepted.
	// Default: ["02/01/2006", "2006-01-02", "02-01-2006", "02/01/06", "2006-01-02T15:04:05"]
	DateLayouts []string `yaml:"date_layouts"`

	// PrincipalSeries is used for rows without a series value.
	// Default: "P"
	PrincipalSeries string `yaml:"principal_series"`

	// CutoffDate (YYYY-MM-DD) excludes rows dated on or before it.
	// Empty means no cutoff.
	CutoffDate string `yaml:"cutoff_date"`
}

// CSVSettings contains settings for parsing CSV files.
type CSVSettings struct {
	// Delimiter separates fields. Accepts ",", ";", "|", "tab".
	// Default: ";"
	Delimiter string `yaml:"delimiter"`
}

// FieldMapping names the raw column that feeds each semantic field.
// Numero and Data are required; the rest are optional.
type FieldMapping struct {
	Numero      string `yaml:"numero"`
	Data        string `yaml:"data"`
	Paziente    string `yaml:"paziente"`
	Codice      string `yaml:"codice"`
	Serie       string `yaml:"serie"`
	Quantita    string `yaml:"quantita"`
	Unita       string `yaml:"unita"`
	Importo     string `yaml:"importo"`
	Iva         string `yaml:"iva"`
	Medico      string `yaml:"medico"`
	Descrizione string `yaml:"descrizione"`
}

// Columns returns the mapped columns keyed by semantic field name, skipping
// unmapped ones.
func (m FieldMapping) Columns() map[string]string {
	all := map[string]string{
		"numero":      m.Numero,
		"data":        m.Data,
		"paziente":    m.Paziente,
		"codice":      m.Codice,
		"serie":       m.Serie,
		"quantita":    m.Quantita,
		"unita":       m.Unita,
		"importo":     m.Importo,
		"iva":         m.Iva,
		"medico":      m.Medico,
		"descrizione": m.Descrizione,
	}
	for k, v := range all {
		if v == "" {
			delete(all, k)
		}
	}
	return all
}

// =============================================================================
// NORMALIZATION RULE STRUCTURE
// =============================================================================

// NormalizationRule defines the actions applied to one raw column.
type NormalizationRule struct {
	// Field is the raw column header.
	Field string `yaml:"field"`

	// Actions are applied in order.
	Actions []NormalizationAction `yaml:"actions"`
}

// NormalizationAction defines a single normalization step.
type NormalizationAction struct {
	// Type is one of:
	//   - "trim", "uppercase", "lowercase"
	//   - "prepend_string", "append_string"
	//   - "replace", "regex_replace"
	//   - "remove_leading_zeros", "pad_zeros_to_length"
	//   - "lookup", "if_empty_use_default"
	Type string `yaml:"type"`

	// Value is the parameter of the action.
	Value string `yaml:"value"`

	// Find is used by "replace" and "regex_replace".
	Find string `yaml:"find,omitempty"`

	// LookupTable is used by "lookup".
	LookupTable map[string]string `yaml:"lookup_table,omitempty"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// LoadMainConfig loads the main configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file. An empty path
//     skips the file and uses defaults plus environment overrides.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be read, parsed or validated.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	var config MainConfig

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&config)
	applyMainConfigDefaults(&config)

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyEnvOverrides replaces file values with environment values when set.
func applyEnvOverrides(config *MainConfig) {
	config.InputDir = getEnv("RECONCILER_INPUT_DIR", config.InputDir)
	config.OutputDir = getEnv("RECONCILER_OUTPUT_DIR", config.OutputDir)
	config.InputArchiveDir = getEnv("RECONCILER_INPUT_ARCHIVE_DIR", config.InputArchiveDir)
	config.CatalogPath = getEnv("RECONCILER_CATALOG", config.CatalogPath)
	config.Store.Driver = getEnv("RECONCILER_STORE_DRIVER", config.Store.Driver)
	config.Store.DSN = getEnv("RECONCILER_STORE_DSN", config.Store.DSN)
	config.Ingest.CutoffDate = getEnv("RECONCILER_CUTOFF_DATE", config.Ingest.CutoffDate)
	config.Ingest.PrincipalSeries = getEnv("RECONCILER_PRINCIPAL_SERIES", config.Ingest.PrincipalSeries)

	if v := getEnv("RECONCILER_MAX_CONCURRENCY", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MaxConcurrency = n
		}
	}

	config.Log.Level = getEnv("LOG_LEVEL", config.Log.Level)
	config.Log.Format = getEnv("LOG_FORMAT", config.Log.Format)
	config.Log.TimeFormat = getEnv("LOG_TIME_FORMAT", config.Log.TimeFormat)
	config.Log.Output = getEnv("LOG_OUTPUT", config.Log.Output)
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.InputDir == "" {
		config.InputDir = "./input"
	}
	if config.OutputDir == "" {
		config.OutputDir = "./output"
	}
	if config.InputArchiveDir == "" {
		config.InputArchiveDir = "./input_archive"
	}
	if len(config.InputPatterns) == 0 {
		config.InputPatterns = []string{"*.xlsx", "*.csv"}
	}
	if config.CatalogPath == "" {
		config.CatalogPath = "./catalog.yaml"
	}
	if config.Store.Driver == "" {
		config.Store.Driver = "sqlite"
	}
	if config.Store.DSN == "" && config.Store.Driver == "sqlite" {
		config.Store.DSN = "./reconciler.db"
	}
	if config.Ingest.HeaderRow == 0 {
		config.Ingest.HeaderRow = 1
	}
	if config.Ingest.CSV.Delimiter == "" {
		config.Ingest.CSV.Delimiter = ";"
	}
	if len(config.Ingest.DateLayouts) == 0 {
		config.Ingest.DateLayouts = []string{"02/01/2006", "2006-01-02", "02-01-2006", "02/01/06", "2006-01-02T15:04:05"}
	}
	if config.Ingest.PrincipalSeries == "" {
		config.Ingest.PrincipalSeries = "P"
	}
	if config.OutputFileFormat == "" {
		config.OutputFileFormat = "{source}_{kind}_{timestamp}"
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}

	defaults := logger.DefaultConfig()
	if config.Log.Level == "" {
		config.Log.Level = defaults.Level
	}
	if config.Log.Format == "" {
		config.Log.Format = defaults.Format
	}
	if config.Log.TimeFormat == "" {
		config.Log.TimeFormat = defaults.TimeFormat
	}
	if config.Log.Output == "" {
		config.Log.Output = defaults.Output
	}
}

// validate checks the values that cannot be defaulted.
func (c *MainConfig) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}

	if strings.TrimSpace(c.Ingest.FieldMapping.Numero) == "" {
		return fmt.Errorf("%w: ingest.field_mapping.numero is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Ingest.FieldMapping.Data) == "" {
		return fmt.Errorf("%w: ingest.field_mapping.data is required", ErrInvalidConfig)
	}
	if c.Ingest.HeaderRow < 1 {
		return fmt.Errorf("%w: ingest.header_row must be at least 1", ErrInvalidConfig)
	}
	if _, err := c.Cutoff(); err != nil {
		return err
	}
	return nil
}

// Cutoff parses Ingest.CutoffDate. It returns nil when no cutoff is set.
func (c *MainConfig) Cutoff() (*time.Time, error) {
	if strings.TrimSpace(c.Ingest.CutoffDate) == "" {
		return nil, nil
	}
	t, err := time.Parse(CutoffLayout, strings.TrimSpace(c.Ingest.CutoffDate))
	if err != nil {
		return nil, fmt.Errorf("%w: cutoff_date %q: %v", ErrInvalidConfig, c.Ingest.CutoffDate, err)
	}
	return &t, nil
}

// LoggerConfig returns the logger configuration.
func (c *MainConfig) LoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		TimeFormat: c.Log.TimeFormat,
		Output:     c.Log.Output,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
