// Package tracking implements the capture agent: one live session per
// process, tracked events buffered in a FIFO queue and flushed to the
// telemetry stores in batches.
package tracking

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config governs all agent behavior. Immutable after construction except
// through Agent.UpdateConfig. Durations are written in YAML as Go duration
// strings ("30s", "5m").
type Config struct {
	Enabled                   bool
	SampleRate                float64 // 0..1, evaluated per event
	ExcludedPages             []string
	ExcludedEvents            []string
	EnablePerformanceTracking bool
	EnableErrorTracking       bool
	BatchSize                 int
	FlushInterval             time.Duration
	IdleTimeout               time.Duration
	IdleCheckInterval         time.Duration
	MinPageDwell              time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:                   true,
		SampleRate:                1.0,
		EnablePerformanceTracking: true,
		EnableErrorTracking:       true,
		BatchSize:                 10,
		FlushInterval:             30 * time.Second,
		IdleTimeout:               30 * time.Minute,
		IdleCheckInterval:         time.Minute,
		MinPageDwell:              time.Second,
	}
}

// LoadConfig reads a YAML config file over the defaults, so absent keys
// keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read tracking config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse tracking config: %w", err)
	}

	return cfg.normalized(), nil
}

// UnmarshalYAML decodes over the receiver's current values, so keys absent
// from the document are left untouched. Duration fields are parsed from
// strings with time.ParseDuration.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig struct {
		Enabled                   bool     `yaml:"enabled"`
		SampleRate                float64  `yaml:"sample_rate"`
		ExcludedPages             []string `yaml:"excluded_pages"`
		ExcludedEvents            []string `yaml:"excluded_events"`
		EnablePerformanceTracking bool     `yaml:"enable_performance_tracking"`
		EnableErrorTracking       bool     `yaml:"enable_error_tracking"`
		BatchSize                 int      `yaml:"batch_size"`
		FlushInterval             string   `yaml:"flush_interval"`
		IdleTimeout               string   `yaml:"idle_timeout"`
		IdleCheckInterval         string   `yaml:"idle_check_interval"`
		MinPageDwell              string   `yaml:"min_page_dwell"`
	}

	raw := rawConfig{
		Enabled:                   c.Enabled,
		SampleRate:                c.SampleRate,
		ExcludedPages:             c.ExcludedPages,
		ExcludedEvents:            c.ExcludedEvents,
		EnablePerformanceTracking: c.EnablePerformanceTracking,
		EnableErrorTracking:       c.EnableErrorTracking,
		BatchSize:                 c.BatchSize,
		FlushInterval:             c.FlushInterval.String(),
		IdleTimeout:               c.IdleTimeout.String(),
		IdleCheckInterval:         c.IdleCheckInterval.String(),
		MinPageDwell:              c.MinPageDwell.String(),
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"flush_interval", raw.FlushInterval, &c.FlushInterval},
		{"idle_timeout", raw.IdleTimeout, &c.IdleTimeout},
		{"idle_check_interval", raw.IdleCheckInterval, &c.IdleCheckInterval},
		{"min_page_dwell", raw.MinPageDwell, &c.MinPageDwell},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	c.Enabled = raw.Enabled
	c.SampleRate = raw.SampleRate
	c.ExcludedPages = raw.ExcludedPages
	c.ExcludedEvents = raw.ExcludedEvents
	c.EnablePerformanceTracking = raw.EnablePerformanceTracking
	c.EnableErrorTracking = raw.EnableErrorTracking
	c.BatchSize = raw.BatchSize
	return nil
}

// normalized clamps the sample rate and backfills zero-valued intervals
// with defaults.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.SampleRate < 0 {
		c.SampleRate = 0
	}
	if c.SampleRate > 1 {
		c.SampleRate = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.IdleCheckInterval <= 0 {
		c.IdleCheckInterval = def.IdleCheckInterval
	}
	if c.MinPageDwell <= 0 {
		c.MinPageDwell = def.MinPageDwell
	}
	return c
}

func (c Config) pageExcluded(page string) bool {
	for _, p := range c.ExcludedPages {
		if p == page {
			return true
		}
	}
	return false
}

func (c Config) eventExcluded(eventType string) bool {
	for _, e := range c.ExcludedEvents {
		if e == eventType {
			return true
		}
	}
	return false
}

// WatchConfig watches a config file and invokes onChange with the freshly
// loaded config after each write, debounced. It blocks until ctx is done
// or the watcher fails.
func WatchConfig(path string, onChange func(Config), done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	var debounce *time.Timer
	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, func() {
				cfg, err := LoadConfig(path)
				if err != nil {
					log.Printf("Warning: failed to reload tracking config: %v", err)
					return
				}
				onChange(cfg)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Warning: tracking config watcher error: %v", err)
		}
	}
}
