// Package insight ties the pipeline client and the completion poller
// together: submit a URL to the right pipeline, then wait for its result.
package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/insight-gateway/internal/config"
	"github.com/tjfontaine/insight-gateway/internal/domain"
	"github.com/tjfontaine/insight-gateway/internal/storage"
)

// journalTimeout bounds a single best-effort journal write.
const journalTimeout = 5 * time.Second

// PipelineClient is the subset of the platform client the service needs.
type PipelineClient interface {
	StartRun(ctx context.Context, pipelineID, inputURL string) (domain.RunHandle, error)
	GetStatus(ctx context.Context, handle domain.RunHandle) (*domain.RunStatus, error)
}

// Waiter blocks until a run finishes.
type Waiter interface {
	Wait(ctx context.Context, handle domain.RunHandle) (*domain.Result, error)
}

// Option configures a Service.
type Option func(*Service)

// WithJournal records every run in journal. Journal failures are logged
// and never affect the run.
func WithJournal(journal storage.RunJournal) Option {
	return func(s *Service) {
		s.journal = journal
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service runs pipelines on behalf of request handlers. It is safe for
// concurrent use; each Run is independent.
type Service struct {
	client    PipelineClient
	waiter    Waiter
	pipelines map[domain.PipelineKind]string
	journal   storage.RunJournal
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a Service using the pipeline ids from cfg.
func NewService(client PipelineClient, waiter Waiter, cfg config.PipelineConfig, opts ...Option) *Service {
	s := &Service{
		client: client,
		waiter: waiter,
		pipelines: map[domain.PipelineKind]string{
			domain.PipelineVideo:   cfg.VideoPipelineID,
			domain.PipelineChannel: cfg.ChannelPipelineID,
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run submits inputURL to the pipeline for kind and waits for the result.
// Errors from submission and polling are returned unchanged.
func (s *Service) Run(ctx context.Context, kind domain.PipelineKind, inputURL string) (*domain.Result, error) {
	pipelineID := s.pipelines[kind]
	if !kind.Valid() || pipelineID == "" {
		return nil, fmt.Errorf("no pipeline configured for kind %q", kind)
	}

	logger := s.logger.With(slog.String("kind", string(kind)))
	start := s.now()
	rec := &storage.RunRecord{
		ID:       uuid.NewString(),
		Kind:     kind,
		InputURL: inputURL,
		Status:   storage.StatusSubmitting,
	}
	s.record(ctx, rec)

	handle, err := s.client.StartRun(ctx, pipelineID, inputURL)
	if err != nil {
		logger.ErrorContext(ctx, "pipeline submission failed", slog.String("error", err.Error()))
		s.finish(ctx, rec, start, err)
		return nil, err
	}

	rec.RunHandle = handle
	rec.Status = storage.StatusRunning
	s.record(ctx, rec)

	result, err := s.waiter.Wait(ctx, handle)
	s.finish(ctx, rec, start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Status fetches a single snapshot of a run without waiting.
func (s *Service) Status(ctx context.Context, handle domain.RunHandle) (*domain.RunStatus, error) {
	return s.client.GetStatus(ctx, handle)
}

// Runs lists recent journal entries. Without a journal it returns an empty
// list.
func (s *Service) Runs(ctx context.Context, limit int) ([]*storage.RunRecord, error) {
	if s.journal == nil {
		return []*storage.RunRecord{}, nil
	}
	return s.journal.ListRuns(ctx, storage.ListOptions{Limit: limit})
}

func (s *Service) finish(ctx context.Context, rec *storage.RunRecord, start time.Time, err error) {
	rec.Elapsed = s.now().Sub(start)
	rec.Status = outcomeStatus(err)
	if err != nil {
		rec.Error = err.Error()
	}
	s.record(ctx, rec)
}

// record writes rec even when ctx is already cancelled, so a client hanging
// up still leaves a trace of how the run ended.
func (s *Service) record(ctx context.Context, rec *storage.RunRecord) {
	if s.journal == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	if err := s.journal.SaveRun(wctx, rec); err != nil {
		s.logger.WarnContext(ctx, "failed to record run",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func outcomeStatus(err error) string {
	switch {
	case err == nil:
		return storage.StatusDone
	case domain.KindOf(err) != "":
		return string(domain.KindOf(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return storage.StatusCancelled
	default:
		return storage.StatusError
	}
}
