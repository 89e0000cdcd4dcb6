package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/smallbiznis/txledger/internal/clock"
	"github.com/smallbiznis/txledger/internal/config"
	eventdomain "github.com/smallbiznis/txledger/internal/event/domain"
	obslogger "github.com/smallbiznis/txledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/txledger/internal/observability/metrics"
	"github.com/smallbiznis/txledger/internal/transaction/service"
	pkgdb "github.com/smallbiznis/txledger/pkg/db"
	"github.com/smallbiznis/txledger/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Applier records one event and reconciles its projection.
type Applier interface {
	Apply(ctx context.Context, event eventdomain.Event) (service.Outcome, error)
}

type ConsumerParams struct {
	fx.In

	Source     Source
	Reconciler *service.Reconciler
	Log        *zap.Logger
	Clock      clock.Clock
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Telemetry  *telemetry.Metrics  `optional:"true"`
}

type Consumer struct {
	source  Source
	applier Applier
	clock   clock.Clock
	cfg     config.IngestConfig
	log     *zap.Logger
	metrics *obsmetrics.Metrics
	prom    *telemetry.Metrics
}

func NewConsumer(p ConsumerParams) *Consumer {
	c := New(p.Source, p.Reconciler, p.Cfg.Ingest, p.Clock, p.Log, p.ObsMetrics)
	c.prom = p.Telemetry
	return c
}

func New(source Source, applier Applier, cfg config.IngestConfig, clk clock.Clock, log *zap.Logger, m *obsmetrics.Metrics) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		source:  source,
		applier: applier,
		clock:   clk,
		cfg:     cfg,
		log:     log.Named("ingest"),
		metrics: m,
	}
}

// Run consumes until ctx is cancelled. A batch is committed only after every
// message in it has been applied or dropped; a transient failure that
// outlasts the retries stops the consumer with the batch uncommitted.
// Messages returned together with a fetch error are handled before backing
// off, since the reader has already moved past them.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msgs, fetchErr := c.source.Fetch(ctx, c.cfg.BatchSize)
		if ctx.Err() != nil {
			return nil
		}
		if len(msgs) > 0 {
			if err := c.handleBatch(ctx, msgs); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		if fetchErr != nil {
			c.log.Warn("fetch failed", zap.Error(fetchErr), zap.Int("handled", len(msgs)))
			if !sleep(ctx, c.cfg.InitialBackoff) {
				return nil
			}
		}
	}
}

func (c *Consumer) handleBatch(ctx context.Context, msgs []Message) error {
	start := time.Now()
	if err := c.ProcessBatch(ctx, msgs); err != nil {
		c.prom.RecordIngestBatch("failed", len(msgs), time.Since(start))
		return err
	}
	if err := c.source.Commit(ctx, msgs...); err != nil {
		c.prom.RecordIngestBatch("failed", len(msgs), time.Since(start))
		return fmt.Errorf("commit offsets: %w", err)
	}
	c.prom.RecordIngestBatch("committed", len(msgs), time.Since(start))
	return nil
}

// ProcessBatch fans messages out to partition workers keyed by resource id so
// that events of one resource are applied serially and in stream order.
func (c *Consumer) ProcessBatch(ctx context.Context, msgs []Message) error {
	receivedAt := c.clock.Now()
	buckets := make([][]eventdomain.Event, c.cfg.Workers)
	for _, msg := range msgs {
		ev, err := eventdomain.ParseMessage(msg.Value, receivedAt)
		if err != nil {
			c.metrics.RecordMalformedEvent(ctx)
			c.log.Warn("dropping malformed event",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}
		idx := PartitionFor(ev.ResourceExternalID, c.cfg.Workers)
		buckets[idx] = append(buckets[idx], ev)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		g.Go(func() error {
			for _, ev := range bucket {
				if err := c.handle(gctx, ev); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Consumer) handle(ctx context.Context, ev eventdomain.Event) error {
	ctx = obslogger.WithCorrelationID(ctx, uuid.NewString())
	ctx = obslogger.WithResourceID(ctx, ev.ResourceExternalID)
	log := obslogger.WithContext(ctx, c.log)

	attempt := 0
	out, err := backoff.Retry(ctx, func() (service.Outcome, error) {
		attempt++
		out, err := c.applier.Apply(ctx, ev)
		if err == nil {
			return out, nil
		}
		if pkgdb.IsTransientErr(err) && ctx.Err() == nil {
			log.Warn("transient failure applying event",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return out, err
		}
		return out, backoff.Permanent(err)
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.cfg.MaxRetries+1),
	)
	if err == nil {
		log.Debug("event applied",
			zap.String("event_type", ev.EventType),
			zap.Bool("stored", out.EventStored),
			zap.Bool("deferred", out.Deferred),
			zap.String("upsert", string(out.Upsert.Result)),
		)
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if pkgdb.IsTransientErr(err) {
		return fmt.Errorf("apply %s %s: %w", ev.ResourceType, ev.ResourceExternalID, err)
	}
	log.Error("event rejected",
		zap.String("event_type", ev.EventType),
		zap.Error(err),
	)
	return nil
}

func (c *Consumer) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	return b
}

// PartitionFor maps a resource id onto one of n workers.
func PartitionFor(resourceID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(resourceID))
	return int(h.Sum32() % uint32(n))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
