package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chunk-relay/backend/app/metrics"
	"chunk-relay/backend/app/session"
	"chunk-relay/backend/global"
	"chunk-relay/queue"
	"chunk-relay/transfer"
)

// Outcome is what happened to one chunk record.
type Outcome string

const (
	OutcomeStored           Outcome = "stored"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeChecksumMismatch Outcome = "checksum_mismatch"
	OutcomeFinalized        Outcome = "finalized"
	OutcomeRejected         Outcome = "rejected"
	OutcomePoison           Outcome = "poison"
)

const completedMessage = "File successfully processed and saved"

// Acked reports whether a record with this outcome is acknowledged.
func (o Outcome) Acked() bool { return o != OutcomeChecksumMismatch }

type Assembler interface {
	Assemble(asm *session.Assembly) (path string, size int64, err error)
}

type ProcessingOptions struct {
	Topic            string
	WaitTimeout      time.Duration
	ErrorBackoff     time.Duration
	ProgressInterval int
	Workers          int
}

func (o *ProcessingOptions) defaults() {
	if o.Topic == "" {
		o.Topic = queue.TopicChunks
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 30 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 5 * time.Second
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 50
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
}

// ProcessingService consumes chunk records, accumulates them per session and
// assembles each session once all of its chunks arrived.
type ProcessingService struct {
	transport queue.Transport
	store     *session.Store
	assembler Assembler
	reporter  *ResultReporter
	tokens    *transfer.TokenSigner
	metrics   *metrics.Metrics
	opts      ProcessingOptions
	now       func() time.Time
}

// NewProcessingService wires the engine. tokens may be nil, in which case
// source tokens are not checked.
func NewProcessingService(transport queue.Transport, store *session.Store, assembler Assembler, reporter *ResultReporter, tokens *transfer.TokenSigner, m *metrics.Metrics, opts ProcessingOptions) *ProcessingService {
	opts.defaults()
	return &ProcessingService{
		transport: transport,
		store:     store,
		assembler: assembler,
		reporter:  reporter,
		tokens:    tokens,
		metrics:   m,
		opts:      opts,
		now:       time.Now,
	}
}

// Run consumes until ctx is cancelled or the transport is closed.
func (s *ProcessingService) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.receiveLoop(ctx, worker)
		}(i)
	}
	global.Logger.Info().Int("workers", s.opts.Workers).Str("topic", s.opts.Topic).Msg("processing started")
	wg.Wait()
	global.Logger.Info().Msg("processing stopped")
}

func (s *ProcessingService) receiveLoop(ctx context.Context, worker int) {
	for ctx.Err() == nil {
		msg, err := s.transport.Receive(ctx, s.opts.Topic, s.opts.WaitTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			s.metrics.TransportError("receive")
			global.Logger.Error().Err(err).Int("worker", worker).Msg("receive chunk")
			sleepCtx(ctx, s.opts.ErrorBackoff)
			continue
		}
		if msg == nil {
			continue
		}
		// a delivery in hand is finished even when shutdown starts
		s.HandleMessage(context.WithoutCancel(ctx), msg)
	}
}

// HandleMessage processes one delivery and acknowledges it unless the
// payload failed its checksum.
func (s *ProcessingService) HandleMessage(ctx context.Context, msg *queue.Message) Outcome {
	rec, err := transfer.DecodeChunk(msg.Body)
	if err != nil {
		s.metrics.ChunkOutcome(string(OutcomePoison))
		global.Logger.Warn().Err(err).Str("message", msg.ID).Msg("dropping malformed chunk")
		s.ack(ctx, msg)
		return OutcomePoison
	}

	put, outcome, err := s.accept(rec)
	s.metrics.ChunkOutcome(string(outcome))
	if err != nil {
		logOutcome(rec, outcome, err)
	}
	if !outcome.Acked() {
		return outcome
	}
	s.ack(ctx, msg)
	if outcome == OutcomeStored {
		s.afterStore(ctx, rec, put)
	}
	return outcome
}

// ProcessChunk runs a decoded record through the engine without a transport.
func (s *ProcessingService) ProcessChunk(ctx context.Context, rec transfer.ChunkRecord) Outcome {
	if err := rec.Validate(); err != nil {
		s.metrics.ChunkOutcome(string(OutcomePoison))
		logOutcome(rec, OutcomePoison, err)
		return OutcomePoison
	}
	put, outcome, err := s.accept(rec)
	s.metrics.ChunkOutcome(string(outcome))
	if err != nil {
		logOutcome(rec, outcome, err)
	}
	if outcome == OutcomeStored {
		s.afterStore(ctx, rec, put)
	}
	return outcome
}

func (s *ProcessingService) accept(rec transfer.ChunkRecord) (session.PutResult, Outcome, error) {
	if s.tokens != nil {
		if err := s.tokens.Verify(rec.SourceToken, rec.SourceID, rec.SessionID); err != nil {
			return session.PutResult{}, OutcomeRejected, err
		}
	}

	now := s.now()
	meta := session.Meta{
		ID:          rec.SessionID,
		FileName:    rec.FileName,
		FileSize:    rec.FileSize,
		TotalChunks: rec.TotalChunks,
		SourceID:    rec.SourceID,
	}
	_, created, err := s.store.Touch(meta, now)
	if err != nil {
		return session.PutResult{}, storeOutcome(err), err
	}
	if created {
		global.Logger.Info().
			Str("session", rec.SessionID).
			Str("file", rec.FileName).
			Int("total_chunks", rec.TotalChunks).
			Str("source", rec.SourceID).
			Msg("session started")
	}

	if err := transfer.VerifyChecksum(rec); err != nil {
		if errors.Is(err, transfer.ErrUnknownAlgorithm) {
			return session.PutResult{}, OutcomePoison, err
		}
		return session.PutResult{}, OutcomeChecksumMismatch, err
	}

	put, err := s.store.Put(rec.SessionID, rec.ChunkIndex, rec.Payload, now)
	if err != nil {
		return session.PutResult{}, storeOutcome(err), err
	}
	if put.Duplicate {
		return put, OutcomeDuplicate, nil
	}
	return put, OutcomeStored, nil
}

func storeOutcome(err error) Outcome {
	switch {
	case errors.Is(err, session.ErrFinalized), errors.Is(err, session.ErrSessionNotFound):
		return OutcomeFinalized
	default:
		return OutcomePoison
	}
}

func (s *ProcessingService) afterStore(ctx context.Context, rec transfer.ChunkRecord, put session.PutResult) {
	if put.Completed || put.Received%s.opts.ProgressInterval == 0 {
		s.reporter.Report(ctx, transfer.ResultRecord{
			SessionID: rec.SessionID,
			FileName:  rec.FileName,
			Status:    transfer.StatusInProgress,
			Message:   fmt.Sprintf("progress: %.1f%%", put.Progress()),
		})
	}
	if put.Completed {
		s.finalize(ctx, put.Assembly)
	}
}

// finalize assembles a complete session. The session leaves the store
// whether or not assembly succeeds.
func (s *ProcessingService) finalize(ctx context.Context, asm *session.Assembly) {
	start := time.Now()
	path, size, err := s.assembler.Assemble(asm)
	s.metrics.ObserveAssembly(time.Since(start))
	s.store.Remove(asm.ID, s.now())

	if err != nil {
		global.Logger.Error().Err(err).Str("session", asm.ID).Str("file", asm.FileName).Msg("assembly failed")
		s.reporter.Report(ctx, transfer.ResultRecord{
			SessionID: asm.ID,
			FileName:  asm.FileName,
			Status:    transfer.StatusFailed,
			Message:   err.Error(),
		})
		return
	}
	global.Logger.Info().
		Str("session", asm.ID).
		Str("file", asm.FileName).
		Str("output", path).
		Int64("size", size).
		Dur("elapsed", s.now().Sub(asm.StartTime)).
		Msg("file assembled")
	s.reporter.Report(ctx, transfer.ResultRecord{
		SessionID:         asm.ID,
		FileName:          asm.FileName,
		Status:            transfer.StatusCompleted,
		Message:           completedMessage,
		ProcessedFileSize: size,
		OutputPath:        path,
	})
}

func (s *ProcessingService) ack(ctx context.Context, msg *queue.Message) {
	if err := s.transport.Ack(ctx, msg); err != nil {
		s.metrics.TransportError("ack")
		global.Logger.Warn().Err(err).Str("message", msg.ID).Msg("ack chunk")
	}
}

func logOutcome(rec transfer.ChunkRecord, outcome Outcome, err error) {
	ev := global.Logger.Warn()
	if outcome == OutcomeFinalized {
		ev = global.Logger.Debug()
	}
	ev.Err(err).
		Str("session", rec.SessionID).
		Int("chunk", rec.ChunkIndex).
		Str("outcome", string(outcome)).
		Msg("chunk not stored")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
