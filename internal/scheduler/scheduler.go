package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job adalah pekerjaan pemeliharaan yang dijalankan oleh scheduler.
type Job interface {
	Name() string
	// Schedule mengembalikan ekspresi cron; string kosong berarti on-demand.
	Schedule() string
	Execute(ctx context.Context) error
}

// Scheduler bertanggung jawab untuk men-schedule dan manage job pemeliharaan
type Scheduler struct {
	cron   *cron.Cron
	jobs   []Job
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.Named("scheduler"),
	}
}

// Register mendaftarkan job baru. Job yang memiliki schedule akan otomatis
// dijadwalkan.
func (s *Scheduler) Register(job Job) error {
	s.jobs = append(s.jobs, job)

	schedule := job.Schedule()
	if schedule == "" {
		s.logger.Info("registered on-demand job", zap.String("job", job.Name()))
		return nil
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.run(s.ctx, job) }); err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name(), err)
	}
	s.logger.Info("job scheduled", zap.String("job", job.Name()), zap.String("cron", schedule))
	return nil
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	log := s.logger.With(zap.String("job", job.Name()))
	log.Debug("job started")
	if err := job.Execute(ctx); err != nil {
		log.Error("job failed", zap.Error(err))
		return err
	}
	log.Debug("job completed")
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop menghentikan scheduler dan menunggu job yang sedang berjalan.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunByName menjalankan job tertentu secara manual (on-demand).
func (s *Scheduler) RunByName(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name() == name {
			return s.run(ctx, job)
		}
	}
	return fmt.Errorf("job %q not registered", name)
}

func (s *Scheduler) Registered() []string {
	names := make([]string, len(s.jobs))
	for i, job := range s.jobs {
		names[i] = job.Name()
	}
	return names
}
