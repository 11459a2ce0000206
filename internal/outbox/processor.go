package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fundiconnect/internal/domain"
	"fundiconnect/internal/metrics"
	"fundiconnect/internal/repository/outbox_repo"
)

type Transactor interface {
	WithinTx(ctx context.Context, fn func(q domain.Querier) error) error
}

type Config struct {
	PollInterval time.Duration
	// PollTimeout bounds one batch: lock, publish and mark.
	PollTimeout time.Duration
	BatchSize   int
}

type Processor struct {
	tx         Transactor
	outboxRepo outbox_repo.OutboxRepository
	publisher  Publisher
	cfg        Config
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewProcessor(
	tx Transactor,
	outboxRepo outbox_repo.OutboxRepository,
	publisher Publisher,
	cfg Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Processor{
		tx:         tx,
		outboxRepo: outboxRepo,
		publisher:  publisher,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With(zap.String("component", "outbox")),
	}
}

// Run polls until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("Starting outbox processor", zap.Duration("poll_interval", p.cfg.PollInterval))
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox processor stopped")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("Outbox batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch publishes up to BatchSize pending messages and marks them
// sent in the transaction that locked them. It stops at the first publish
// failure so later events for the same booking are not delivered ahead of
// it; the unsent rows are picked up by the next poll.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	batchCtx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
	defer cancel()

	sent := 0
	err := p.tx.WithinTx(batchCtx, func(q domain.Querier) error {
		messages, err := p.outboxRepo.GetPendingMessages(batchCtx, q, p.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}
		p.logger.Debug("Found pending outbox messages", zap.Int("count", len(messages)))

		for _, msg := range messages {
			if err := p.publisher.Publish(batchCtx, msg); err != nil {
				p.metrics.OutboxPublished.WithLabelValues("failed").Inc()
				p.logger.Warn("Failed to publish outbox message, will retry",
					zap.String("message_id", msg.ID),
					zap.String("message_type", msg.MessageType),
					zap.Error(err))
				return nil
			}
			if err := p.outboxRepo.UpdateMessageStatus(batchCtx, q, msg.ID, domain.OutboxStatusSent); err != nil {
				return err
			}
			p.metrics.OutboxPublished.WithLabelValues("sent").Inc()
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if sent > 0 {
		p.logger.Info("Outbox messages published", zap.Int("count", sent))
	}
	return sent, nil
}
