package redaction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smallbiznis/txledger/internal/cache"
	"github.com/smallbiznis/txledger/internal/clock"
	"github.com/smallbiznis/txledger/internal/config"
	eventdomain "github.com/smallbiznis/txledger/internal/event/domain"
	obsmetrics "github.com/smallbiznis/txledger/internal/observability/metrics"
	"github.com/smallbiznis/txledger/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const lockKey = "txledger:lock:redaction"

type ServiceParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Cfg        config.Config
	Repo       domain.Repository
	Events     eventdomain.Repository
	Watermarks WatermarkRepository
	Locker     *cache.Locker       `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	cfg        config.RedactionConfig
	repo       domain.Repository
	events     eventdomain.Repository
	watermarks WatermarkRepository
	locker     *cache.Locker
	metrics    *obsmetrics.Metrics
}

// RunResult summarises one redaction pass.
type RunResult struct {
	Redacted  int
	Skipped   bool
	Watermark time.Time
}

func NewService(p ServiceParams) *Service {
	cfg := p.Cfg.Redaction
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("redaction"),
		clock:      p.Clock,
		cfg:        cfg,
		repo:       p.Repo,
		events:     p.Events,
		watermarks: p.Watermarks,
		locker:     p.Locker,
		metrics:    p.ObsMetrics,
	}
}

// RunOnce redacts every transaction created before the retention cutoff that
// lies after the watermark, oldest first, together with its events. Rows
// sharing the watermark's created_date are revisited; redaction is
// idempotent and already clean rows are not counted.
func (s *Service) RunOnce(ctx context.Context) (RunResult, error) {
	token, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.Interval)
	if err != nil {
		return RunResult{}, fmt.Errorf("acquire redaction lock: %w", err)
	}
	if !ok {
		s.log.Debug("redaction already running elsewhere")
		return RunResult{Skipped: true}, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.log.Warn("release redaction lock", zap.Error(err))
		}
	}()

	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.RetentionPeriod)

	var result RunResult
	wm, found, err := s.watermarks.Get(ctx, s.db, WatermarkName)
	if err != nil {
		return result, err
	}
	pos := domain.KeysetPosition{}
	if found {
		pos.CreatedDate = wm.Value
		result.Watermark = wm.Value
	}

	for {
		batch, err := s.repo.ListCreatedBetween(ctx, s.db, pos, cutoff, s.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			break
		}

		redacted := 0
		for i := range batch {
			changed, err := s.redact(ctx, &batch[i], now)
			if err != nil {
				return result, fmt.Errorf("redact %s: %w", batch[i].ExternalID, err)
			}
			if changed {
				redacted++
			}
		}

		last := batch[len(batch)-1]
		if err := s.watermarks.Advance(ctx, s.db, WatermarkName, last.CreatedDate, now); err != nil {
			return result, err
		}
		pos = domain.KeysetPosition{CreatedDate: last.CreatedDate, ID: last.ID}
		result.Redacted += redacted
		result.Watermark = last.CreatedDate
		s.metrics.RecordRedacted(ctx, redacted)

		if len(batch) < s.cfg.BatchSize {
			break
		}
	}

	if result.Redacted > 0 {
		s.log.Info("redaction pass complete",
			zap.Int("redacted", result.Redacted),
			zap.Time("watermark", result.Watermark),
		)
	}
	return result, nil
}

// redact scrubs the row identified by listed and its events. The row is
// re-read under lock so a reconciliation committed since the batch was listed
// is kept.
func (s *Service) redact(ctx context.Context, listed *domain.Transaction, now time.Time) (bool, error) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.repo.LockByExternalID(ctx, tx, listed.ExternalID)
		if err != nil {
			return err
		}
		if t == nil {
			return nil
		}

		events, err := s.events.ListByExternalID(ctx, tx, t.ExternalID)
		if err != nil {
			return err
		}
		for _, ev := range events {
			payload := ev.Payload.Clone()
			if !scrub(payload) {
				continue
			}
			if err := s.events.UpdatePayload(ctx, tx, ev.ID, payload); err != nil {
				return err
			}
			changed = true
		}

		details := map[string]any{}
		if len(t.TransactionDetails) > 0 {
			if err := json.Unmarshal(t.TransactionDetails, &details); err != nil {
				return err
			}
		}
		if scrub(details) {
			changed = true
		}
		if t.Email != "" || t.CardholderName != "" || t.FirstDigitsCardNumber != "" || t.LastDigitsCardNumber != "" {
			changed = true
		}
		if !changed {
			return nil
		}

		raw, err := json.Marshal(details)
		if err != nil {
			return err
		}
		t.Email = ""
		t.CardholderName = ""
		t.FirstDigitsCardNumber = ""
		t.LastDigitsCardNumber = ""
		t.TransactionDetails = datatypes.JSON(raw)
		t.ContentHash = t.ComputeContentHash()
		t.UpdatedAt = now
		return s.repo.UpdateRedacted(ctx, tx, t)
	})
	return changed, err
}
