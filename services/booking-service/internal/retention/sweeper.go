package retention

import (
	"context"
	"log/slog"
	"time"
)

type Store interface {
	PurgeIdempotencyKeys(ctx context.Context, before time.Time, limit int) (int64, error)
	PurgePublishedEvents(ctx context.Context, before time.Time, limit int) (int64, error)
	PurgeStaleEvents(ctx context.Context, before time.Time, limit int) (int64, error)
}

type Config struct {
	Interval     time.Duration
	BatchSize    int
	KeyTTL       time.Duration
	PublishedTTL time.Duration

	// NoPublisher is set when nothing publishes the outbox. Events are then
	// dropped after PublishedTTL counted from creation.
	NoPublisher bool
}

// Sweeper periodically removes expired idempotency keys and outbox rows that
// were already published, or every old outbox row when no publisher runs.
type Sweeper struct {
	store        Store
	logger       *slog.Logger
	interval     time.Duration
	batchSize    int
	keyTTL       time.Duration
	publishedTTL time.Duration
	noPublisher  bool
	now          func() time.Time
}

func NewSweeper(store Store, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = 24 * time.Hour
	}
	if cfg.PublishedTTL <= 0 {
		cfg.PublishedTTL = 7 * 24 * time.Hour
	}
	return &Sweeper{
		store:        store,
		logger:       logger,
		interval:     cfg.Interval,
		batchSize:    cfg.BatchSize,
		keyTTL:       cfg.KeyTTL,
		publishedTTL: cfg.PublishedTTL,
		noPublisher:  cfg.NoPublisher,
		now:          time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("retention sweep failed", "err", err)
			}
		}
	}
}

// Sweep runs one pass. Each table is drained in batches until a batch comes
// back short.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now()
	keys, err := s.drain(ctx, now.Add(-s.keyTTL), s.store.PurgeIdempotencyKeys)
	if err != nil {
		return err
	}
	purgeEvents := s.store.PurgePublishedEvents
	if s.noPublisher {
		purgeEvents = s.store.PurgeStaleEvents
	}
	events, err := s.drain(ctx, now.Add(-s.publishedTTL), purgeEvents)
	if err != nil {
		return err
	}
	if keys > 0 || events > 0 {
		s.logger.Info("retention sweep", "idempotency_keys", keys, "outbox_events", events)
	}
	return nil
}

func (s *Sweeper) drain(ctx context.Context, before time.Time, purge func(context.Context, time.Time, int) (int64, error)) (int64, error) {
	var total int64
	for {
		n, err := purge(ctx, before, s.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(s.batchSize) || ctx.Err() != nil {
			return total, nil
		}
	}
}
