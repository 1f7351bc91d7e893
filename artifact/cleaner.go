// Package artifact removes stale audio files left behind by finished jobs.
// Deletions run concurrently but are capped by a bulkhead so a large sweep
// cannot saturate disk I/O while a transcription is running.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skillsenselab/voxpipe/component"
	"github.com/skillsenselab/voxpipe/logger"
	"github.com/skillsenselab/voxpipe/resilience"
)

// Config holds artifact cleanup configuration.
type Config struct {
	// Dir is the directory holding audio artifacts. Empty disables cleanup.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// MaxAge is how old a file must be before a sweep removes it.
	MaxAge time.Duration `yaml:"max_age" mapstructure:"max_age"`
	// Interval is the time between scheduled sweeps.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// MaxConcurrentDeletes caps simultaneous file removals.
	MaxConcurrentDeletes int `yaml:"max_concurrent_deletes" mapstructure:"max_concurrent_deletes"`
}

// ApplyDefaults sets sensible default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxAge == 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
	if c.Interval == 0 {
		c.Interval = time.Hour
	}
	if c.MaxConcurrentDeletes == 0 {
		c.MaxConcurrentDeletes = 4
	}
}

// Cleaner sweeps a directory for stale artifacts and deletes them.
type Cleaner struct {
	cfg      Config
	bulkhead *resilience.Bulkhead
	log      *logger.Logger

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

var _ component.Component = (*Cleaner)(nil)

// NewCleaner creates a cleaner for the configured directory.
func NewCleaner(cfg Config, log *logger.Logger) *Cleaner {
	return &Cleaner{
		cfg: cfg,
		bulkhead: resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "artifact-delete",
			MaxConcurrent: cfg.MaxConcurrentDeletes,
		}),
		log: log.WithComponent("artifact-cleaner"),
	}
}

// Sweep deletes every regular file in the directory older than MaxAge.
// It returns the number of files removed.
func (c *Cleaner) Sweep(ctx context.Context) (int, error) {
	if c.cfg.Dir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("reading artifact dir: %w", err)
	}

	cutoff := time.Now().Add(-c.cfg.MaxAge)
	stale := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, filepath.Join(c.cfg.Dir, entry.Name()))
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}

	removed, err := c.Delete(ctx, stale)
	c.log.Info("artifact sweep finished", logger.Fields(
		"candidates", len(stale),
		"removed", removed,
	))
	return removed, err
}

// Delete removes the given files, at most MaxConcurrentDeletes at a time.
// It returns the number of files removed and the joined errors, if any.
func (c *Cleaner) Delete(ctx context.Context, paths []string) (int, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		removed int
		errs    []error
	)

	for _, path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			err := c.bulkhead.Execute(ctx, func() error {
				if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
				return nil
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				return
			}
			removed++
		}(path)
	}
	wg.Wait()

	return removed, errors.Join(errs...)
}

// Name implements component.Component.
func (c *Cleaner) Name() string { return "artifact-cleaner" }

// Start launches the periodic sweep loop. A cleaner without a directory is a
// no-op component.
func (c *Cleaner) Start(_ context.Context) error {
	if c.cfg.Dir == "" {
		c.log.Debug("artifact cleanup disabled, no directory configured")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return nil
	}
	c.done = make(chan struct{})

	c.wg.Add(1)
	go c.run(c.done)
	return nil
}

func (c *Cleaner) run(done chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Interval)
			if _, err := c.Sweep(ctx); err != nil {
				c.log.Warn("artifact sweep failed", logger.ErrorFields("sweep", err))
			}
			cancel()
		}
	}
}

// Stop halts the sweep loop.
func (c *Cleaner) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.wg.Wait()
	return nil
}

// Health implements component.Component.
func (c *Cleaner) Health(_ context.Context) component.Health {
	if c.cfg.Dir == "" {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusHealthy,
			Message: "disabled",
		}
	}
	if _, err := os.Stat(c.cfg.Dir); err != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusDegraded,
			Message: fmt.Sprintf("artifact dir not accessible: %v", err),
		}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}
