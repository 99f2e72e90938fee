// Package cron runs configured render jobs on their schedules and sweeps
// expired artifacts out of the output directory.
package cron

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/yourusername/grafana-reporter/pkg/job"
	"go.uber.org/zap"
)

// Pruner deletes run records older than a cutoff. Satisfied by the store;
// nil disables record pruning.
type Pruner interface {
	PruneRuns(before time.Time) error
}

// Scheduler owns the cron loop. Jobs are registered before Start and run
// on their own goroutines; a job never stops the loop.
type Scheduler struct {
	cron          *cron.Cron
	pruner        Pruner
	outputDir     string
	retentionDays int
	log           *zap.Logger
}

// NewScheduler creates a scheduler. retentionDays bounds how long rendered
// files and run records are kept; zero or negative disables the sweep.
func NewScheduler(pruner Pruner, outputDir string, retentionDays int, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:          cron.New(),
		pruner:        pruner,
		outputDir:     outputDir,
		retentionDays: retentionDays,
		log:           log,
	}
}

// Register adds a job under its cron expression.
func (s *Scheduler) Register(j *job.Job) error {
	id, err := s.cron.AddJob(j.Cron(), j)
	if err != nil {
		return fmt.Errorf("schedule job %s (%q): %w", j.Name(), j.Cron(), err)
	}
	s.log.Info("job scheduled",
		zap.String("job", j.Name()),
		zap.String("cron", j.Cron()),
		zap.Int("entry", int(id)))
	return nil
}

// Start begins executing schedules. The retention sweep runs once at
// startup and then daily.
func (s *Scheduler) Start() error {
	if s.retentionDays > 0 {
		if _, err := s.cron.AddFunc("@daily", s.sweep); err != nil {
			return fmt.Errorf("schedule retention sweep: %w", err)
		}
		go s.sweep()
	}

	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))
	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// sweep removes rendered files older than the retention window and prunes
// matching run records. Sweep errors are logged, never fatal.
func (s *Scheduler) sweep() {
	cutoff := time.Now().Add(-time.Duration(s.retentionDays) * 24 * time.Hour)
	s.log.Info("retention sweep", zap.Time("cutoff", cutoff))

	entries, err := os.ReadDir(s.outputDir)
	if err != nil {
		s.log.Warn("retention sweep could not read output dir", zap.Error(err))
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.outputDir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn("failed to remove expired artifact", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("removed expired artifacts", zap.Int("count", removed))
	}

	if s.pruner != nil {
		if err := s.pruner.PruneRuns(cutoff); err != nil {
			s.log.Warn("failed to prune run records", zap.Error(err))
		}
	}
}
