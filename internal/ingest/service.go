// Package ingest runs ingestion jobs: it claims pending jobs, drains the
// source's catalog stream through the record pipeline, and maintains the
// job's status and event timeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openshelf/catalogd/internal/catalog"
	"github.com/openshelf/catalogd/internal/metrics"
	"github.com/openshelf/catalogd/internal/pipeline"
)

const (
	// Progress events fire on the first record and every Nth after.
	progressEveryN = 10
	// Cancellation is polled every this many records.
	cancelCheckInterval = 50
	// Each job keeps at most this many events; older rows are pruned.
	maxEventsPerJob = 500
	// Heartbeat event cadence while a scan is running.
	heartbeatInterval = 20 * time.Second
	// Per-record budget for the pipeline (storage plus search index).
	recordTimeout = 60 * time.Second
	// At most this many pending jobs are dispatched per scheduler tick.
	pendingJobLimit = 10
)

// ConnectorFactory builds the connector for a source's connector type.
type ConnectorFactory interface {
	Create(connectorType catalog.ConnectorType) (catalog.Connector, error)
}

// Processor pushes one raw record through the ingestion pipeline.
type Processor interface {
	Process(ctx context.Context, record catalog.RawRecord) (pipeline.Result, error)
}

// Service coordinates job execution against the job store.
type Service struct {
	jobs       catalog.JobStore
	connectors ConnectorFactory
	processor  Processor
	clock      catalog.Clock
	logger     *zap.Logger

	recordTimeout     time.Duration
	heartbeatInterval time.Duration
}

// NewService builds the Service.
func NewService(jobs catalog.JobStore, connectors ConnectorFactory, processor Processor, clock catalog.Clock, logger *zap.Logger) *Service {
	return &Service{
		jobs:              jobs,
		connectors:        connectors,
		processor:         processor,
		clock:             clock,
		logger:            logger,
		recordTimeout:     recordTimeout,
		heartbeatInterval: heartbeatInterval,
	}
}

// CreateJobForSource enqueues a pending job for the source unless one is
// already pending or running. The bool reports whether a job was created.
func (s *Service) CreateJobForSource(ctx context.Context, sourceID string) (catalog.IngestionJob, bool, error) {
	_, err := s.jobs.FindActiveJob(ctx, sourceID)
	if err == nil {
		return catalog.IngestionJob{}, false, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return catalog.IngestionJob{}, false, fmt.Errorf("finding active job: %w", err)
	}
	job, err := s.jobs.CreateJob(ctx, sourceID)
	if err != nil {
		return catalog.IngestionJob{}, false, fmt.Errorf("creating job: %w", err)
	}
	return job, true, nil
}

// PendingJobIDs lists dispatchable pending jobs for enabled sources.
func (s *Service) PendingJobIDs(ctx context.Context) ([]string, error) {
	return s.jobs.ListPendingJobIDs(ctx, pendingJobLimit)
}

// RunJob executes one job to a terminal status. A job that is not pending,
// or whose claim is lost to another runner, is skipped without error.
// Connector failures mark the job failed and are returned to the caller.
func (s *Service) RunJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if job.Status != catalog.JobStatusPending {
		return nil
	}

	source, err := s.jobs.GetSource(ctx, job.SourceID)
	if err != nil || source.ConnectorType == "" {
		return s.failBeforeStart(ctx, jobID, "source has no connector_type")
	}

	claimed, err := s.jobs.ClaimJob(ctx, jobID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("claiming job %s: %w", jobID, err)
	}
	if !claimed {
		return nil
	}

	startedAt := s.clock.Now()
	s.logger.Info("ingestion job started",
		zap.String("job_id", jobID),
		zap.String("source_id", source.ID))
	s.emitEvent(ctx, jobID, catalog.EventStarted,
		fmt.Sprintf("Ingestion started for source %s", source.Name),
		map[string]any{"source_name": source.Name})

	connector, err := s.connectors.Create(source.ConnectorType)
	if err != nil {
		return s.failJob(ctx, jobID, source.ID, startedAt, err)
	}

	progress, runErr := s.drain(ctx, jobID, source, connector)
	duration := s.clock.Now().Sub(startedAt)
	switch {
	case runErr != nil:
		metrics.JobFinished(string(catalog.JobStatusFailed), duration)
		return s.failJob(ctx, jobID, source.ID, startedAt, runErr)
	case progress.cancelled:
		s.emitEvent(ctx, jobID, catalog.EventCancelled,
			fmt.Sprintf("Cancelled after %d records", progress.count),
			map[string]any{"count": progress.count})
		if err := s.jobs.FinishJob(ctx, jobID, catalog.JobStatusCancelled, s.clock.Now(), ""); err != nil {
			return fmt.Errorf("finishing cancelled job: %w", err)
		}
		metrics.JobFinished(string(catalog.JobStatusCancelled), duration)
		return nil
	default:
		message := fmt.Sprintf("Completed: %d records indexed", progress.count)
		if progress.indexFailures > 0 {
			message = fmt.Sprintf("Completed: %d records processed, %d failed to index to search",
				progress.count, progress.indexFailures)
		}
		detail := map[string]any{
			"count":          progress.count,
			"index_failures": progress.indexFailures,
			"duration_ms":    duration.Milliseconds(),
		}
		if progress.lastError != "" {
			detail["index_error_sample"] = progress.lastError
		}
		s.emitEvent(ctx, jobID, catalog.EventCompleted, message, detail)
		if err := s.jobs.FinishJob(ctx, jobID, catalog.JobStatusCompleted, s.clock.Now(), ""); err != nil {
			return fmt.Errorf("finishing job: %w", err)
		}
		metrics.JobFinished(string(catalog.JobStatusCompleted), duration)
		s.logger.Info("ingestion job completed",
			zap.String("job_id", jobID),
			zap.String("source_id", source.ID),
			zap.Int("records", progress.count),
			zap.Duration("duration", duration))
		return nil
	}
}

// scanProgress tracks the scan counters. The heartbeat goroutine reads it
// while the drain loop writes, so access goes through the mutex.
type scanProgress struct {
	mu            sync.Mutex
	count         int
	indexFailures int
	lastError     string
	lastTitle     string
	cancelled     bool
}

func (p *scanProgress) snapshot() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count, p.lastTitle
}

func (p *scanProgress) advance(title string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	p.lastTitle = title
	return p.count
}

func (p *scanProgress) recordFailure(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.indexFailures++
	p.lastError = message
}

// drain consumes the connector's record stream until end-of-catalog,
// cancellation, or a connector error.
func (s *Service) drain(ctx context.Context, jobID string, source catalog.Source, connector catalog.Connector) (*scanProgress, error) {
	progress := &scanProgress{}

	stopHeartbeat := s.startHeartbeat(ctx, jobID, progress)
	defer stopHeartbeat()

	stream := connector.FetchCatalog(ctx, source.ID)
	defer stream.Stop()
	for {
		record, ok := stream.Next(ctx)
		if !ok {
			break
		}

		if progress.count > 0 && progress.count%cancelCheckInterval == 0 {
			status, err := s.jobs.GetJobStatus(ctx, jobID)
			if err == nil && status == catalog.JobStatusCancelled {
				progress.cancelled = true
				break
			}
		}

		result, err := s.processRecord(ctx, record)
		if err != nil {
			// Record failures are counted, never fatal to the scan.
			progress.recordFailure(err.Error())
			metrics.RecordFailed(source.ID)
		} else if result.IndexErr != nil {
			progress.recordFailure(result.IndexErr.Error())
		}

		count := progress.advance(record.Title)
		metrics.RecordProcessed(source.ID)

		if count == 1 || count%progressEveryN == 0 {
			message := fmt.Sprintf("%d records, last: %s", count, titleOrDash(record.Title))
			if count == 1 {
				message = fmt.Sprintf("Scraped: %s", titleOrDash(record.Title))
			}
			s.emitEvent(ctx, jobID, catalog.EventProgress, message,
				map[string]any{"count": count, "last_title": record.Title})
		}
	}
	if err := stream.Err(); err != nil {
		return progress, err
	}
	// A cancelled drain context ends the stream without a producer error;
	// a partial scan must not be reported as completed.
	if !progress.cancelled {
		if err := ctx.Err(); err != nil {
			return progress, err
		}
	}
	return progress, nil
}

// processRecord applies the per-record timeout so one slow record cannot
// hang the whole scan.
func (s *Service) processRecord(ctx context.Context, record catalog.RawRecord) (pipeline.Result, error) {
	recordCtx, cancel := context.WithTimeout(ctx, s.recordTimeout)
	defer cancel()

	type outcome struct {
		result pipeline.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.processor.Process(recordCtx, record)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-recordCtx.Done():
		return pipeline.Result{}, fmt.Errorf("record processing timeout: %w", recordCtx.Err())
	}
}

// startHeartbeat emits a progress event every interval while the job is
// still running, so a long quiet stretch between records remains visible.
func (s *Service) startHeartbeat(ctx context.Context, jobID string, progress *scanProgress) func() {
	stopped := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopped:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				status, err := s.jobs.GetJobStatus(ctx, jobID)
				if err != nil || status != catalog.JobStatusRunning {
					continue
				}
				count, lastTitle := progress.snapshot()
				message := "Still scanning…"
				if count > 0 {
					message = fmt.Sprintf("Still scanning… %d records so far, last: %s",
						count, titleOrDash(lastTitle))
				}
				s.emitEvent(ctx, jobID, catalog.EventProgress, message,
					map[string]any{"count": count, "last_title": lastTitle})
			}
		}
	}()
	return func() { close(stopped) }
}

func (s *Service) failBeforeStart(ctx context.Context, jobID, reason string) error {
	if err := s.jobs.FinishJob(ctx, jobID, catalog.JobStatusFailed, s.clock.Now(), reason); err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	return nil
}

// failJob records the failure and re-raises the error to the caller.
func (s *Service) failJob(ctx context.Context, jobID, sourceID string, startedAt time.Time, cause error) error {
	s.emitEvent(ctx, jobID, catalog.EventFailed, cause.Error(), map[string]any{"error": cause.Error()})
	if err := s.jobs.FinishJob(ctx, jobID, catalog.JobStatusFailed, s.clock.Now(), cause.Error()); err != nil {
		s.logger.Error("failed to mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	s.logger.Warn("ingestion job failed",
		zap.String("job_id", jobID),
		zap.String("source_id", sourceID),
		zap.Duration("duration", s.clock.Now().Sub(startedAt)),
		zap.Error(cause))
	return cause
}

// emitEvent appends one timeline event and prunes the oldest rows beyond the
// cap. Event persistence is best effort; a failed write never aborts a scan.
func (s *Service) emitEvent(ctx context.Context, jobID, eventType, message string, detail map[string]any) {
	event := catalog.JobEvent{
		ID:        uuid.NewString(),
		JobID:     jobID,
		EventType: eventType,
		Message:   message,
		Detail:    detail,
		CreatedAt: s.clock.Now(),
	}
	if err := s.jobs.AppendEvent(ctx, event); err != nil {
		s.logger.Warn("failed to append job event", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if err := s.jobs.PruneEvents(ctx, jobID, maxEventsPerJob); err != nil {
		s.logger.Warn("failed to prune job events", zap.String("job_id", jobID), zap.Error(err))
	}
}

func titleOrDash(title string) string {
	if title == "" {
		return "—"
	}
	return title
}
