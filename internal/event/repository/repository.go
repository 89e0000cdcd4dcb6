package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/txledger/internal/event/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.Event) (bool, error) {
	if event.PayloadHash == "" {
		event.PayloadHash = event.Payload.Hash()
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListByResource returns events in application order: event date, then
// arrival.
func (r *repo) ListByResource(ctx context.Context, db *gorm.DB, externalID string, resourceType domain.ResourceType) ([]domain.Event, error) {
	var items []domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT id, resource_external_id, resource_type, parent_resource_external_id,
			event_type, event_date, service_id, live, payload, payload_hash, received_at
		 FROM events
		 WHERE resource_external_id = ? AND resource_type = ?
		 ORDER BY event_date ASC, id ASC`,
		externalID,
		resourceType,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByExternalID(ctx context.Context, db *gorm.DB, externalID string) ([]domain.Event, error) {
	var items []domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT id, resource_external_id, resource_type, parent_resource_external_id,
			event_type, event_date, service_id, live, payload, payload_hash, received_at
		 FROM events
		 WHERE resource_external_id = ?
		 ORDER BY event_date ASC, id ASC`,
		externalID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdatePayload rewrites the body of a stored event. payload_hash is left
// untouched so a redelivery of the original is still recognised.
func (r *repo) UpdatePayload(ctx context.Context, db *gorm.DB, id snowflake.ID, payload domain.Payload) error {
	return db.WithContext(ctx).Exec(
		`UPDATE events SET payload = ? WHERE id = ?`,
		payload,
		id,
	).Error
}
