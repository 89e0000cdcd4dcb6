package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/txledger/internal/config"
	eventdomain "github.com/smallbiznis/txledger/internal/event/domain"
	obslogger "github.com/smallbiznis/txledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/txledger/internal/observability/metrics"
	"github.com/smallbiznis/txledger/internal/observability/tracing"
	"github.com/smallbiznis/txledger/internal/transaction/domain"
	"github.com/smallbiznis/txledger/internal/transaction/state"
	"github.com/smallbiznis/txledger/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CountCache remembers search totals for a short time.
type CountCache interface {
	GetCount(ctx context.Context, key string) (total int64, capped bool, ok bool, err error)
	SetCount(ctx context.Context, key string, total int64, capped bool, ttl time.Duration) error
}

type SearchServiceParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Tuning     *config.TuningHolder
	Repo       domain.Repository
	Events     eventdomain.Repository
	Cache      CountCache          `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// SearchService answers read queries. It never takes locks.
type SearchService struct {
	db         *gorm.DB
	log        *zap.Logger
	tuning     *config.TuningHolder
	repo       domain.Repository
	events     eventdomain.Repository
	cache      CountCache
	obsMetrics *obsmetrics.Metrics
	tracer     trace.Tracer
}

func NewSearchService(p SearchServiceParams) *SearchService {
	return &SearchService{
		db:         p.DB,
		log:        p.Log.Named("transaction.search"),
		tuning:     p.Tuning,
		repo:       p.Repo,
		events:     p.Events,
		cache:      p.Cache,
		obsMetrics: p.ObsMetrics,
		tracer:     tracing.Tracer("txledger/transaction"),
	}
}

// DefaultStatusVersion is the status vocabulary used when a request names none.
func (s *SearchService) DefaultStatusVersion() state.Version {
	return state.Version(s.tuning.Get().DefaultStatusVersion)
}

// GetByExternalID loads one projection. A non-empty gatewayAccountID must
// match the stored account.
func (s *SearchService) GetByExternalID(ctx context.Context, externalID, gatewayAccountID string) (*domain.Transaction, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, domain.ErrInvalidExternalID
	}
	item, err := s.repo.FindByExternalID(ctx, s.db, externalID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	if gatewayAccountID != "" && item.GatewayAccountID != gatewayAccountID {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

// ListEvents returns the stored events of a transaction in application order.
func (s *SearchService) ListEvents(ctx context.Context, externalID, gatewayAccountID string) ([]eventdomain.Event, error) {
	if _, err := s.GetByExternalID(ctx, externalID, gatewayAccountID); err != nil {
		return nil, err
	}
	return s.events.ListByExternalID(ctx, s.db, strings.TrimSpace(externalID))
}

// Search returns one offset page and the number of matching rows, capped at
// the configured count limit.
func (s *SearchService) Search(ctx context.Context, params domain.SearchParams, page, size int) (domain.SearchResult, error) {
	tuning := s.tuning.Get()
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return domain.SearchResult{}, domain.ErrInvalidPage
	}
	size, err := pageSize(size, tuning)
	if err != nil {
		return domain.SearchResult{}, err
	}
	// the offset must fit an int
	if page-1 > math.MaxInt/size {
		return domain.SearchResult{}, domain.ErrInvalidPage
	}
	params, err = s.normalize(params, tuning)
	if err != nil {
		return domain.SearchResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "transaction.search")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page), attribute.Int("size", size))

	ctx, cancel := context.WithTimeout(ctx, tuning.SearchTimeout)
	defer cancel()
	start := time.Now()

	items, err := s.repo.Search(ctx, s.db, params, (page-1)*size, size)
	if err != nil {
		return domain.SearchResult{}, s.searchErr(ctx, "offset", start, err)
	}
	total, capped, err := s.count(ctx, params, tuning)
	if err != nil {
		return domain.SearchResult{}, s.searchErr(ctx, "offset", start, err)
	}
	s.obsMetrics.ObserveSearch(ctx, "offset", time.Since(start), false)

	return domain.SearchResult{
		Items:  items,
		Page:   page,
		Size:   size,
		Total:  total,
		Capped: capped,
	}, nil
}

// SearchCursor reads one keyset page. An empty token starts from the newest
// row; direction picks the side of the cursor to read.
func (s *SearchService) SearchCursor(ctx context.Context, params domain.SearchParams, cursorToken string, size int, direction domain.CursorDirection) (domain.CursorPage, error) {
	tuning := s.tuning.Get()
	size, err := pageSize(size, tuning)
	if err != nil {
		return domain.CursorPage{}, err
	}
	params, err = s.normalize(params, tuning)
	if err != nil {
		return domain.CursorPage{}, err
	}

	var pos *domain.KeysetPosition
	if token := strings.TrimSpace(cursorToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.CursorPage{}, domain.ErrInvalidCursor
		}
		at, id, _ := cursor.Position()
		pos = &domain.KeysetPosition{CreatedDate: at, ID: snowflake.ID(id)}
	}
	reverse := direction == domain.CursorPrevious && pos != nil

	ctx, span := s.tracer.Start(ctx, "transaction.search_cursor")
	defer span.End()
	span.SetAttributes(attribute.Int("size", size), attribute.Bool("reverse", reverse))

	ctx, cancel := context.WithTimeout(ctx, tuning.SearchTimeout)
	defer cancel()
	start := time.Now()

	rows, err := s.repo.SearchAfter(ctx, s.db, params, pos, size+1, reverse)
	if err != nil {
		return domain.CursorPage{}, s.searchErr(ctx, "cursor", start, err)
	}
	s.obsMetrics.ObserveSearch(ctx, "cursor", time.Since(start), false)

	if !reverse {
		items, info := pagination.BuildCursorPageInfo(rows, size, encodePosition)
		page := domain.CursorPage{Items: items, NextCursor: info.NextPageToken, HasMore: info.HasMore}
		if pos != nil {
			page.PreviousCursor = info.PreviousPageToken
		}
		return page, nil
	}

	hasMore := len(rows) > size
	if hasMore {
		rows = rows[:size]
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	page := domain.CursorPage{Items: rows, HasMore: hasMore}
	if len(rows) > 0 {
		page.NextCursor = encodePosition(rows[len(rows)-1])
		if hasMore {
			page.PreviousCursor = encodePosition(rows[0])
		}
	}
	return page, nil
}

func (s *SearchService) count(ctx context.Context, params domain.SearchParams, tuning config.Tuning) (int64, bool, error) {
	if s.cache == nil || tuning.CountCacheTTL <= 0 {
		return s.repo.Count(ctx, s.db, params, tuning.TotalCountLimit)
	}

	key := countKey(params, tuning.TotalCountLimit)
	log := obslogger.WithContext(ctx, s.log)
	if total, capped, ok, err := s.cache.GetCount(ctx, key); err != nil {
		log.Warn("count cache read failed", zap.Error(err))
	} else if ok {
		return total, capped, nil
	}

	total, capped, err := s.repo.Count(ctx, s.db, params, tuning.TotalCountLimit)
	if err != nil {
		return 0, false, err
	}
	if err := s.cache.SetCount(ctx, key, total, capped, tuning.CountCacheTTL); err != nil {
		log.Warn("count cache write failed", zap.Error(err))
	}
	return total, capped, nil
}

func (s *SearchService) searchErr(ctx context.Context, mode string, start time.Time, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		s.obsMetrics.ObserveSearch(ctx, mode, time.Since(start), true)
		obslogger.WithContext(ctx, s.log).Warn("search timed out",
			zap.String("mode", mode),
			zap.Duration("elapsed", time.Since(start)),
		)
		return domain.ErrSearchTimeout
	}
	return err
}

var (
	firstDigitsPattern = regexp.MustCompile(`^[0-9]{6}$`)
	lastDigitsPattern  = regexp.MustCompile(`^[0-9]{4}$`)
)

// normalize validates the filter set and fills the status version.
func (s *SearchService) normalize(p domain.SearchParams, tuning config.Tuning) (domain.SearchParams, error) {
	if !p.StatusVersion.Valid() {
		if p.StatusVersion != 0 {
			return p, domain.ErrInvalidVersion
		}
		p.StatusVersion = state.Version(tuning.DefaultStatusVersion)
	}
	if p.FromDate != nil && p.ToDate != nil && !p.FromDate.Before(*p.ToDate) {
		return p, domain.ErrInvalidDateRange
	}
	if p.FromSettledDate != nil && p.ToSettledDate != nil && !p.FromSettledDate.Before(*p.ToSettledDate) {
		return p, domain.ErrInvalidDateRange
	}
	if p.FirstDigits != "" && !firstDigitsPattern.MatchString(p.FirstDigits) {
		return p, domain.ErrInvalidCardDigits
	}
	if p.LastDigits != "" && !lastDigitsPattern.MatchString(p.LastDigits) {
		return p, domain.ErrInvalidCardDigits
	}
	for _, k := range p.Types {
		if !k.Valid() {
			return p, domain.ErrInvalidType
		}
	}
	if (p.MetadataKey == "") != (p.MetadataValue == "") {
		return p, domain.ErrInvalidMetadata
	}

	kinds := p.Types
	if len(kinds) == 0 {
		kinds = state.Kinds
	}
	p.States = append([]string(nil), p.States...)
	for i, status := range p.States {
		status = strings.ToLower(strings.TrimSpace(status))
		known := false
		for _, kind := range kinds {
			if len(state.NamesForStatus(kind, p.StatusVersion, status)) > 0 {
				known = true
				break
			}
		}
		if !known {
			return p, domain.ErrInvalidState
		}
		p.States[i] = status
	}
	return p, nil
}

func pageSize(size int, tuning config.Tuning) (int, error) {
	if size == 0 {
		return tuning.DefaultPageSize, nil
	}
	if size < 0 || size > tuning.MaxPageSize {
		return 0, domain.ErrInvalidPageSize
	}
	return size, nil
}

func encodePosition(t domain.Transaction) string {
	token, err := pagination.EncodeCursor(pagination.NewCursor(t.ID.Int64(), t.CreatedDate))
	if err != nil {
		return ""
	}
	return token
}

func countKey(p domain.SearchParams, limit int64) string {
	b, _ := json.Marshal(struct {
		Params domain.SearchParams
		Limit  int64
	}{p, limit})
	sum := sha256.Sum256(b)
	return "txledger:count:" + hex.EncodeToString(sum[:16])
}
