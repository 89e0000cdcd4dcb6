package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/txledger/internal/clock"
	"github.com/smallbiznis/txledger/internal/config"
	eventdomain "github.com/smallbiznis/txledger/internal/event/domain"
	obslogger "github.com/smallbiznis/txledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/txledger/internal/observability/metrics"
	"github.com/smallbiznis/txledger/internal/transaction/digest"
	"github.com/smallbiznis/txledger/internal/transaction/domain"
	"github.com/smallbiznis/txledger/internal/transaction/projection"
	"github.com/smallbiznis/txledger/internal/transaction/state"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultUpsertTimeout = 5 * time.Second

type ReconcilerParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Events     eventdomain.Repository
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Reconciler stores incoming events and keeps the projection of their
// resource current.
type Reconciler struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	upsertTimeout time.Duration
	events        eventdomain.Repository
	repo          domain.Repository
	obsMetrics    *obsmetrics.Metrics
}

// Outcome describes one reconciliation pass.
type Outcome struct {
	// EventStored is false when the event was a redelivery.
	EventStored bool
	// Deferred is set when no salient event is known yet.
	Deferred     bool
	NotProjected bool
	CrossType    bool
	Upsert       domain.UpsertOutcome
}

func NewReconciler(p ReconcilerParams) *Reconciler {
	timeout := p.Cfg.Upsert.Timeout
	if timeout <= 0 {
		timeout = defaultUpsertTimeout
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Reconciler{
		db:            p.DB,
		log:           p.Log.Named("transaction.reconciler"),
		genID:         p.GenID,
		clock:         clk,
		upsertTimeout: timeout,
		events:        p.Events,
		repo:          p.Repo,
		obsMetrics:    p.ObsMetrics,
	}
}

// Apply stores the event and rebuilds the projection of its resource from
// every stored event. The write ignores caller cancellation and is bounded
// by its own timeout instead.
func (r *Reconciler) Apply(ctx context.Context, event eventdomain.Event) (Outcome, error) {
	if event.ID == 0 {
		event.ID = r.genID.Generate()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = eventdomain.NormalizeTime(r.clock.Now())
	}
	if event.PayloadHash == "" {
		event.PayloadHash = event.Payload.Hash()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.upsertTimeout)
	defer cancel()

	r.obsMetrics.RecordEventReceived(ctx, string(event.ResourceType), event.EventType)

	stored, err := r.events.Insert(wctx, r.db, &event)
	if err != nil {
		return Outcome{}, fmt.Errorf("store event %s/%s: %w", event.ResourceExternalID, event.EventType, err)
	}
	if !stored {
		obslogger.WithContext(ctx, r.log).Debug("duplicate event delivery",
			zap.String("resource_external_id", event.ResourceExternalID),
			zap.String("event_type", event.EventType),
		)
	}

	if !event.ResourceType.Projectable() {
		return Outcome{EventStored: stored, NotProjected: true}, nil
	}

	outcome, err := r.reproject(ctx, wctx, event.ResourceExternalID, event.ResourceType)
	outcome.EventStored = stored
	return outcome, err
}

// Reproject rebuilds one projection from its stored events.
func (r *Reconciler) Reproject(ctx context.Context, externalID string) (Outcome, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.upsertTimeout)
	defer cancel()

	events, err := r.events.ListByExternalID(wctx, r.db, externalID)
	if err != nil {
		return Outcome{}, err
	}
	if len(events) == 0 {
		return Outcome{}, domain.ErrNotFound
	}
	resourceType := events[len(events)-1].ResourceType
	if !resourceType.Projectable() {
		return Outcome{NotProjected: true}, nil
	}
	return r.reproject(ctx, wctx, externalID, resourceType)
}

func (r *Reconciler) reproject(ctx, wctx context.Context, externalID string, resourceType eventdomain.ResourceType) (Outcome, error) {
	log := obslogger.WithContext(ctx, r.log).With(
		zap.String("resource_external_id", externalID),
		zap.String("resource_type", string(resourceType)),
	)

	events, err := r.events.ListByResource(wctx, r.db, externalID, resourceType)
	if err != nil {
		return Outcome{}, fmt.Errorf("load events of %s: %w", externalID, err)
	}
	if len(events) == 0 {
		return Outcome{}, domain.ErrNotFound
	}

	d, err := digest.Aggregate(events)
	if errors.Is(err, digest.ErrNoSalientEvent) {
		log.Info("projection deferred, no salient event yet", zap.Int("event_count", len(events)))
		r.obsMetrics.RecordDeferred(ctx, string(resourceType))
		return Outcome{Deferred: true}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	res, err := projection.Build(d, state.V2)
	if err != nil {
		r.obsMetrics.RecordReconcileFailure(ctx, "build")
		return Outcome{}, err
	}
	if res.CrossType {
		log.Warn("salient event applied across transaction types",
			zap.String("event_type", d.MostRecentSalientEventType),
			zap.String("state", res.Transaction.State),
		)
		r.obsMetrics.RecordCrossTypeState(ctx, string(res.Transaction.Type), d.MostRecentSalientEventType)
	}

	candidate := res.Transaction
	candidate.ID = r.genID.Generate()
	candidate.UpdatedAt = eventdomain.NormalizeTime(r.clock.Now())

	upserted, err := r.repo.Upsert(wctx, r.db, &candidate)
	if err != nil {
		reason := "store"
		if errors.Is(err, domain.ErrIdentityConflict) {
			reason = "identity_conflict"
			log.Error("projection identity conflict", zap.Error(err))
		}
		r.obsMetrics.RecordReconcileFailure(ctx, reason)
		return Outcome{}, err
	}

	r.obsMetrics.RecordUpsert(ctx, string(candidate.Type), string(upserted.Result), string(upserted.SkipReason))
	if upserted.Result == domain.UpsertSkipped {
		log.Debug("projection write skipped",
			zap.String("reason", string(upserted.SkipReason)),
			zap.Int("candidate_event_count", candidate.EventCount),
			zap.Int("stored_event_count", upserted.StoredEventCount),
		)
	}

	return Outcome{CrossType: res.CrossType, Upsert: upserted}, nil
}
