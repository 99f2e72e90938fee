package cron

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yourusername/grafana-reporter/pkg/job"
	"go.uber.org/zap"
)

type stubPruner struct {
	cutoff time.Time
	calls  int
}

func (p *stubPruner) PruneRuns(before time.Time) error {
	p.cutoff = before
	p.calls++
	return nil
}

func TestSweepRemovesExpiredArtifacts(t *testing.T) {
	dir := t.TempDir()

	oldFile := filepath.Join(dir, "old.png")
	if err := os.WriteFile(oldFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	expired := time.Now().Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(oldFile, expired, expired); err != nil {
		t.Fatal(err)
	}

	newFile := filepath.Join(dir, "new.png")
	if err := os.WriteFile(newFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	pruner := &stubPruner{}
	s := NewScheduler(pruner, dir, 7, zap.NewNop())
	s.sweep()

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("expired artifact survived the sweep")
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Error("recent artifact was removed")
	}
	if pruner.calls != 1 {
		t.Errorf("PruneRuns called %d times, want 1", pruner.calls)
	}
	if time.Since(pruner.cutoff) < 7*24*time.Hour-time.Minute {
		t.Errorf("prune cutoff %v does not match retention window", pruner.cutoff)
	}
}

func TestSweepWithoutPruner(t *testing.T) {
	s := NewScheduler(nil, t.TempDir(), 7, zap.NewNop())
	s.sweep() // must not panic with run history disabled
}

func TestRegisterRejectsBadExpression(t *testing.T) {
	j, err := job.New(job.Spec{Dashboard: "abc123", Cron: "not a cron"}, job.Deps{Log: zap.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s := NewScheduler(nil, t.TempDir(), 0, zap.NewNop())
	if err := s.Register(j); err == nil {
		t.Fatal("Register accepted an unparseable expression")
	}
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(nil, t.TempDir(), 0, zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
