package redaction

import (
	"context"
	"time"

	"github.com/smallbiznis/txledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redaction",
	fx.Provide(NewWatermarkRepository),
	fx.Provide(NewService),
	fx.Invoke(RegisterJob),
)

func RegisterJob(lc fx.Lifecycle, cfg config.Config, svc *Service, log *zap.Logger) {
	if !cfg.Redaction.Enabled {
		return
	}

	var (
		cancel context.CancelFunc
		done   = make(chan struct{})
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				svc.RunForever(ctx)
			}()
			log.Info("redaction job scheduled", zap.Duration("interval", svc.cfg.Interval))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func (s *Service) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("redaction run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
