package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"panoramer/internal/stitch"
)

const (
	defaultConfigPath = "~/.config/panoramer/config.json"
	defaultParallel   = 2
	defaultMaxUpload  = 16 << 20
)

// Config holds user-editable settings for the service.
type Config struct {
	Processing Processing    `json:"processing"`
	Logging    Logging       `json:"logging"`
	Paths      Paths         `json:"paths"`
	Stitching  stitch.Config `json:"stitching"`
	Server     Server        `json:"server"`
	Watch      Watch         `json:"watch"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int `json:"parallel_jobs"`
	QueueSize    int `json:"queue_size"`
	JPEGQuality  int `json:"jpeg_quality"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	UploadDir    string `json:"upload_dir"`
	ResultsDir   string `json:"results_dir"`
	OutputDir    string `json:"output_dir"`
	DatabasePath string `json:"database_path"`
}

// Server configures the HTTP and gRPC listeners.
type Server struct {
	HTTPAddr       string   `json:"http_addr"`
	GRPCAddr       string   `json:"grpc_addr"`
	MaxUploadBytes int64    `json:"max_upload_bytes"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Watch configures the upload directory watcher.
type Watch struct {
	SettleDelay Duration `json:"settle_delay"`
	// Mode is the job submitted for a settled upload set: "stitch" or "generate".
	Mode string `json:"mode"`
}

// Duration is a time.Duration that reads and writes as "2s" in JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"2s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Load reads configuration from disk, falling back to sensible defaults.
// A .env file in the working directory is loaded first, then PANORAMER_*
// variables override file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	path, err := Path()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		defer f.Close()
		dec := json.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the expanded location of the config file.
func Path() (string, error) {
	p := os.Getenv("PANORAMER_CONFIG")
	if p == "" {
		p = defaultConfigPath
	}
	return expandUser(p)
}

// Save writes cfg as indented JSON, creating parent directories.
func (c *Config) Save(path string) error {
	expanded, err := expandUser(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(expanded, append(data, '\n'), 0o644)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Processing.ParallelJobs < 1 {
		return fmt.Errorf("processing.parallel_jobs must be positive, got %d", c.Processing.ParallelJobs)
	}
	if c.Processing.QueueSize < 1 {
		return fmt.Errorf("processing.queue_size must be positive, got %d", c.Processing.QueueSize)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Paths.UploadDir == "" || c.Paths.OutputDir == "" {
		return errors.New("paths.upload_dir and paths.output_dir are required")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	switch c.Watch.Mode {
	case "", "stitch", "generate":
	default:
		return fmt.Errorf("watch.mode %q is not one of stitch, generate", c.Watch.Mode)
	}
	if err := c.Stitching.Validate(); err != nil {
		return fmt.Errorf("stitching: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PANORAMER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PANORAMER_HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv("PANORAMER_GRPC_ADDR"); v != "" {
		c.Server.GRPCAddr = v
	}
	if v := os.Getenv("PANORAMER_UPLOAD_DIR"); v != "" {
		c.Paths.UploadDir = v
	}
	if v := os.Getenv("PANORAMER_RESULTS_DIR"); v != "" {
		c.Paths.ResultsDir = v
	}
	if v := os.Getenv("PANORAMER_DB"); v != "" {
		c.Paths.DatabasePath = v
	}
}

// ResultsDir returns the directory for per-step generate artifacts,
// defaulting to <upload_dir>/results.
func (c *Config) ResultsDir() string {
	if c.Paths.ResultsDir != "" {
		return c.Paths.ResultsDir
	}
	return filepath.Join(c.Paths.UploadDir, "results")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			QueueSize:    64,
			JPEGQuality:  92,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			UploadDir:    "./uploads",
			OutputDir:    "./static/output",
			DatabasePath: filepath.Join(os.TempDir(), "panoramer.db"),
		},
		Stitching: stitch.DefaultConfig(),
		Server: Server{
			HTTPAddr:       ":5000",
			GRPCAddr:       ":50051",
			MaxUploadBytes: defaultMaxUpload,
			AllowedOrigins: []string{"*"},
		},
		Watch: Watch{
			SettleDelay: Duration{2 * time.Second},
			Mode:        "stitch",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
