package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/rolekeeper/pkg/observability"
)

// Exporter produces the document a snapshot stores
type Exporter interface {
	ExportRoles(ctx context.Context) ([]byte, error)
}

// Scheduler takes role snapshots on a cron schedule
type Scheduler struct {
	exporter Exporter
	sinks    []Sink
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	cron *cron.Cron

	// serializes runs so a slow sink never overlaps the next tick
	runMu sync.Mutex
}

// NewScheduler creates a scheduler writing exporter's documents to sinks
func NewScheduler(exporter Exporter, sinks []Sink, logger *observability.Logger, metrics *observability.Metrics) *Scheduler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Scheduler{
		exporter: exporter,
		sinks:    sinks,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
		cron:     cron.New(),
	}
}

// Schedule registers a snapshot job. schedule is a standard five field cron
// expression or a descriptor such as "@hourly".
func (s *Scheduler) Schedule(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		defer observability.RecoverPanic(s.logger, "snapshot job")
		if err := s.Run(context.Background()); err != nil {
			s.logger.WithError(err).Error("Scheduled snapshot failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", schedule, err)
	}
	return nil
}

// Start runs the cron scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithField("sinks", len(s.sinks)).Info("Snapshot scheduler started")
}

// Stop stops scheduling and waits for a running job until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("snapshot job still running: %w", ctx.Err())
	}
}

// Run takes one snapshot and writes it to every sink. A failing sink does
// not stop the others; their errors are joined.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	at := s.now()
	data, err := s.exporter.ExportRoles(ctx)
	if err != nil {
		for _, sink := range s.sinks {
			s.metrics.RecordSnapshot(sink.Name(), err, at)
		}
		return fmt.Errorf("failed to export roles: %w", err)
	}

	key := Key(at)
	var errs []error
	for _, sink := range s.sinks {
		log := s.logger.WithTraceContext(ctx).WithField("sink", sink.Name()).WithField("key", key)
		err := sink.Write(ctx, key, data)
		s.metrics.RecordSnapshot(sink.Name(), err, at)
		if err != nil {
			log.WithError(err).Error("Failed to write snapshot")
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		log.WithField("bytes", len(data)).Info("Snapshot written")
	}
	return errors.Join(errs...)
}
