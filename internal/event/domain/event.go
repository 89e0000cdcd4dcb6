package domain

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Event is one received domain event. Rows are immutable apart from redaction.
type Event struct {
	ID                       snowflake.ID `json:"id" gorm:"primaryKey"`
	ResourceExternalID       string       `json:"resource_external_id" gorm:"type:text;not null;uniqueIndex:ux_events_delivery"`
	ResourceType             ResourceType `json:"resource_type" gorm:"type:text;not null;uniqueIndex:ux_events_delivery"`
	ParentResourceExternalID string       `json:"parent_resource_external_id,omitempty" gorm:"type:text"`
	EventType                string       `json:"event_type" gorm:"type:text;not null;uniqueIndex:ux_events_delivery"`
	EventDate                time.Time    `json:"event_date" gorm:"not null;uniqueIndex:ux_events_delivery"`
	ServiceID                string       `json:"service_id,omitempty" gorm:"type:text"`
	Live                     bool         `json:"live"`
	Payload                  Payload      `json:"event_details" gorm:"type:jsonb;not null"`
	PayloadHash              string       `json:"-" gorm:"type:text;not null;uniqueIndex:ux_events_delivery"`
	ReceivedAt               time.Time    `json:"received_at" gorm:"not null"`
}

func (Event) TableName() string { return "events" }

// DeliveryKey identifies the logical event: resource, type, event date and
// payload. Redeliveries share it.
func (e Event) DeliveryKey() string {
	hash := e.PayloadHash
	if hash == "" {
		hash = e.Payload.Hash()
	}
	return strings.Join([]string{
		string(e.ResourceType),
		e.ResourceExternalID,
		e.EventType,
		strconv.FormatInt(e.EventDate.UnixNano(), 10),
		hash,
	}, "|")
}

type Repository interface {
	// Insert stores the event unless an identical delivery already exists.
	Insert(ctx context.Context, db *gorm.DB, event *Event) (bool, error)
	ListByResource(ctx context.Context, db *gorm.DB, externalID string, resourceType ResourceType) ([]Event, error)
	ListByExternalID(ctx context.Context, db *gorm.DB, externalID string) ([]Event, error)
	UpdatePayload(ctx context.Context, db *gorm.DB, id snowflake.ID, payload Payload) error
}
