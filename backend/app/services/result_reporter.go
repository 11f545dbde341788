package services

import (
	"context"
	"time"

	"chunk-relay/backend/app/metrics"
	"chunk-relay/backend/app/models"
	"chunk-relay/backend/app/repo"
	"chunk-relay/backend/global"
	"chunk-relay/queue"
	"chunk-relay/transfer"

	"github.com/google/uuid"
)

// ResultReporter publishes result records and keeps a copy in the results table.
type ResultReporter struct {
	transport queue.Transport
	topic     string
	ttl       time.Duration
	results   *repo.TransferResultRepository
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewResultReporter(transport queue.Transport, results *repo.TransferResultRepository, m *metrics.Metrics, ttl time.Duration) *ResultReporter {
	if ttl <= 0 {
		ttl = queue.DefaultMessageTTL
	}
	return &ResultReporter{
		transport: transport,
		topic:     queue.TopicResults,
		ttl:       ttl,
		results:   results,
		metrics:   m,
		now:       time.Now,
	}
}

// Report never fails: publish and persist errors are logged and dropped.
func (r *ResultReporter) Report(ctx context.Context, rec transfer.ResultRecord) {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = r.now().UTC()
	}
	r.metrics.Result(string(rec.Status))

	body, err := transfer.EncodeResult(rec)
	if err == nil {
		err = r.transport.Send(ctx, r.topic, uuid.NewString(), body, r.ttl)
	}
	if err != nil {
		r.metrics.TransportError("send")
		global.Logger.Warn().Err(err).Str("session", rec.SessionID).Str("status", string(rec.Status)).Msg("publish result")
	}

	if r.results == nil {
		return
	}
	row := &models.TransferResult{
		SessionID:         rec.SessionID,
		FileName:          rec.FileName,
		Status:            string(rec.Status),
		Message:           rec.Message,
		ProcessedFileSize: rec.ProcessedFileSize,
		OutputPath:        rec.OutputPath,
		ProcessedAt:       rec.ProcessedAt,
	}
	if err := r.results.Create(row); err != nil {
		global.Logger.Warn().Err(err).Str("session", rec.SessionID).Msg("persist result")
	}
}
