package redaction

import (
	"context"
	"time"

	"github.com/smallbiznis/txledger/internal/transaction/domain"
)

func (s *Service) Redact(ctx context.Context, t *domain.Transaction, now time.Time) (bool, error) {
	return s.redact(ctx, t, now)
}
