package ingest

import (
	"context"

	"github.com/smallbiznis/txledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ingest",
	fx.Provide(NewSource),
	fx.Provide(NewConsumer),
	fx.Invoke(RegisterConsumer),
)

func NewSource(cfg config.Config) (Source, error) {
	if !cfg.Ingest.Enabled {
		return nil, nil
	}
	return NewKafkaSource(cfg.Ingest)
}

func RegisterConsumer(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, consumer *Consumer, source Source, log *zap.Logger) {
	if !cfg.Ingest.Enabled {
		log.Info("event ingest disabled")
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
				if err := consumer.Run(ctx); err != nil {
					log.Error("event consumer stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			log.Info("event consumer started",
				zap.String("topic", cfg.Ingest.Topic),
				zap.Int("workers", cfg.Ingest.Workers),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return source.Close()
		},
	})
}
