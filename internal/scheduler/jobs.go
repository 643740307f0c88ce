package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SnapshotSource produces the encoded live forest.
type SnapshotSource interface {
	Snapshot() ([]byte, error)
}

// BackupJob writes timestamped copies of the snapshot into Dir and keeps the
// newest Keep files.
type BackupJob struct {
	Source SnapshotSource
	Dir    string
	Cron   string
	Keep   int
	now    func() time.Time
}

func (j *BackupJob) Name() string     { return "snapshot-backup" }
func (j *BackupJob) Schedule() string { return j.Cron }

func (j *BackupJob) Execute(ctx context.Context) error {
	data, err := j.Source.Snapshot()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(j.Dir, 0o750); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	now := time.Now
	if j.now != nil {
		now = j.now
	}
	name := filepath.Join(j.Dir, "forums-"+now().UTC().Format("20060102T150405.000")+".json")
	if err := os.WriteFile(name, data, 0o640); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return j.prune()
}

func (j *BackupJob) prune() error {
	if j.Keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		return err
	}
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "forums-") && strings.HasSuffix(e.Name(), ".json") {
			backups = append(backups, e.Name())
		}
	}
	sort.Strings(backups)
	for len(backups) > j.Keep {
		if err := os.Remove(filepath.Join(j.Dir, backups[0])); err != nil {
			return err
		}
		backups = backups[1:]
	}
	return nil
}

type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// GCJob runs badger value log garbage collection.
type GCJob struct {
	DB   GarbageCollector
	Cron string
}

func (j *GCJob) Name() string     { return "badger-gc" }
func (j *GCJob) Schedule() string { return j.Cron }

func (j *GCJob) Execute(ctx context.Context) error {
	return j.DB.RunGC(0.5)
}

type ObserverCounter interface {
	Count() int
}

// ObserverReportJob logs how many observers are connected.
type ObserverReportJob struct {
	Bus    ObserverCounter
	Cron   string
	Logger *zap.Logger
}

func (j *ObserverReportJob) Name() string     { return "observer-report" }
func (j *ObserverReportJob) Schedule() string { return j.Cron }

func (j *ObserverReportJob) Execute(ctx context.Context) error {
	j.Logger.Info("observers connected", zap.Int("count", j.Bus.Count()))
	return nil
}
