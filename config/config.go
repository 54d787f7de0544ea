package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds downloader configuration.
type Config struct {
	BaseURL                string          `yaml:"base_url"`
	StartID                int             `yaml:"start_id"`
	EndID                  int             `yaml:"end_id"`
	DestDir                string          `yaml:"dest_dir"`
	BooksDir               string          `yaml:"books_dir"`
	ImagesDir              string          `yaml:"images_dir"`
	Timeout                time.Duration   `yaml:"timeout"`
	UserAgent              string          `yaml:"user_agent"`
	MaxBodySize            int             `yaml:"max_body_size"`
	RetryDelays            []time.Duration `yaml:"retry_delays"`
	MaxConsecutiveFailures int             `yaml:"max_consecutive_failures"`
	HistorySize            int             `yaml:"history_size"`
	CatalogFormat          string          `yaml:"catalog_format"` // csv, json, dual, or none
	CatalogFile            string          `yaml:"catalog_file"`
	LogFile                string          `yaml:"log_file"`
	Verbose                bool            `yaml:"verbose"`
	Progress               bool            `yaml:"progress"`
	MetricsAddr            string          `yaml:"metrics_addr"`
	PushgatewayURL         string          `yaml:"pushgateway_url"`
}

// DefaultConfig returns the defaults for tululu.org.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:                "https://tululu.org",
		StartID:                1,
		EndID:                  10,
		DestDir:                ".",
		BooksDir:               "books",
		ImagesDir:              "images",
		Timeout:                30 * time.Second,
		UserAgent:              "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		MaxBodySize:            0,
		RetryDelays:            []time.Duration{5 * time.Second, 15 * time.Second},
		MaxConsecutiveFailures: 0,
		HistorySize:            10000,
		CatalogFormat:          "json",
		CatalogFile:            "catalog.jsonl",
		LogFile:                "error.log",
		Verbose:                false,
		Progress:               false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.StartID <= 0 {
		return fmt.Errorf("start id must be positive")
	}
	if c.EndID < c.StartID {
		return fmt.Errorf("end id (%d) cannot be lower than start id (%d)", c.EndID, c.StartID)
	}
	if c.DestDir == "" {
		return fmt.Errorf("destination directory cannot be empty")
	}
	if c.BooksDir == "" || c.ImagesDir == "" {
		return fmt.Errorf("books and images directories cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxBodySize < 0 {
		return fmt.Errorf("max body size cannot be negative")
	}
	if len(c.RetryDelays) == 0 {
		return fmt.Errorf("retry delays cannot be empty")
	}
	for i, d := range c.RetryDelays {
		if d <= 0 {
			return fmt.Errorf("retry delay #%d must be positive", i+1)
		}
		if i > 0 && d < c.RetryDelays[i-1] {
			return fmt.Errorf("retry delay #%d (%s) cannot be shorter than the previous one (%s)", i+1, d, c.RetryDelays[i-1])
		}
	}
	if c.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max consecutive failures cannot be negative")
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history size must be positive")
	}
	switch c.CatalogFormat {
	case "csv", "json", "dual", "none":
	default:
		return fmt.Errorf("catalog format must be csv, json, dual, or none")
	}
	if c.CatalogFormat != "none" && c.CatalogFile == "" {
		return fmt.Errorf("catalog file cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// HistoryCapacity is the size used for per-id caches: HistorySize, raised
// to the length of the id range so no id of the run is ever evicted.
func (c *Config) HistoryCapacity() int {
	return max(c.HistorySize, c.EndID-c.StartID+1)
}

// LoadFile overlays values from a YAML file onto c. Keys absent from the
// file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays TULULU_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	if value, ok, err := EnvInt("TULULU_START_ID"); err != nil {
		return fmt.Errorf("invalid TULULU_START_ID: %w", err)
	} else if ok {
		c.StartID = value
	}
	if value, ok, err := EnvInt("TULULU_END_ID"); err != nil {
		return fmt.Errorf("invalid TULULU_END_ID: %w", err)
	} else if ok {
		c.EndID = value
	}
	if value, ok := EnvString("TULULU_DEST"); ok {
		c.DestDir = value
	}
	if value, ok := EnvString("TULULU_METRICS_ADDR"); ok {
		c.MetricsAddr = value
	}
	if value, ok := EnvString("TULULU_PUSHGATEWAY_URL"); ok {
		c.PushgatewayURL = value
	}
	return nil
}

// EnvInt reads an integer environment variable. ok is false when unset.
func EnvInt(key string) (value int, ok bool, err error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err = strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// EnvString reads a non-blank environment variable.
func EnvString(key string) (string, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	return raw, true
}
