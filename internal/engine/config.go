package engine

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration. Values come from an optional YAML
// file, overridden by environment variables, overridden by CLI flags.
type Config struct {
	InputRoot  string `yaml:"input_root"`
	OutputRoot string `yaml:"output_root"`
	ListenAddr string `yaml:"listen_addr"`

	MaxWorkers int `yaml:"max_workers"`

	ExtractorCmd string `yaml:"extractor_cmd"`
	RendererCmd  string `yaml:"renderer_cmd"`
	PDFCmd       string `yaml:"pdf_cmd"`

	// HydratedSchema is an optional JSON Schema path; when set, hydrated
	// document replacements must conform.
	HydratedSchema string `yaml:"hydrated_schema"`

	ExtractTimeout time.Duration `yaml:"extract_timeout"`
	RenderTimeout  time.Duration `yaml:"render_timeout"`
	PDFTimeout     time.Duration `yaml:"pdf_timeout"`

	// WatchDebounce is how long input activity must settle before a case
	// event fires.
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// IgnoreGlobs exclude matching input file names from scans.
	IgnoreGlobs []string `yaml:"ignore_globs"`
}

// DefaultConfig returns the baseline every deployment starts from.
func DefaultConfig() Config {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	return Config{
		ListenAddr:     ":8080",
		MaxWorkers:     workers,
		ExtractTimeout: 10 * time.Minute,
		RenderTimeout:  5 * time.Minute,
		PDFTimeout:     2 * time.Minute,
		WatchDebounce:  250 * time.Millisecond,
		IgnoreGlobs:    []string{".*", "~$*", "*.tmp"},
	}
}

// LoadConfigFile overlays the YAML file at path onto cfg. Unknown keys and
// trailing documents are errors so typos fail loudly.
func LoadConfigFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	// A second document means the file is malformed, not extra config.
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return fmt.Errorf("config %s: unexpected trailing document", path)
	}
	return nil
}

// ApplyEnv overlays the well-known environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	for _, s := range []struct {
		env string
		dst *string
	}{
		{"INPUT_ROOT", &cfg.InputRoot},
		{"OUTPUT_ROOT", &cfg.OutputRoot},
		{"LISTEN_ADDR", &cfg.ListenAddr},
		{"EXTRACTOR_CMD", &cfg.ExtractorCmd},
		{"RENDERER_CMD", &cfg.RendererCmd},
		{"PDF_CMD", &cfg.PDFCmd},
		{"HYDRATED_SCHEMA", &cfg.HydratedSchema},
	} {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}
	if v := os.Getenv("MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("MAX_WORKERS must be a positive integer, got %q", v)
		}
		cfg.MaxWorkers = n
	}
	return nil
}

// Validate checks that the configuration is runnable.
func (c *Config) Validate() error {
	if c.InputRoot == "" {
		return fmt.Errorf("input_root is required (INPUT_ROOT)")
	}
	if c.OutputRoot == "" {
		return fmt.Errorf("output_root is required (OUTPUT_ROOT)")
	}
	if c.ExtractorCmd == "" {
		return fmt.Errorf("extractor_cmd is required (EXTRACTOR_CMD)")
	}
	if c.RendererCmd == "" {
		return fmt.Errorf("renderer_cmd is required (RENDERER_CMD)")
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1")
	}
	if c.ExtractTimeout <= 0 || c.RenderTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
