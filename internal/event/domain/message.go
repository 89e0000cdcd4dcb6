package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MalformedEventError reports a transport message that cannot become an Event.
// Such messages are dropped, never retried.
type MalformedEventError struct {
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed event: %s: %v", e.Reason, e.Err)
	}
	return "malformed event: " + e.Reason
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// IsMalformed reports whether err carries a MalformedEventError.
func IsMalformed(err error) bool {
	var target *MalformedEventError
	return errors.As(err, &target)
}

func malformed(reason string, err error) error {
	return &MalformedEventError{Reason: reason, Err: err}
}

type message struct {
	Timestamp                string          `json:"timestamp"`
	ResourceExternalID       string          `json:"resource_external_id"`
	ParentResourceExternalID string          `json:"parent_resource_external_id"`
	EventType                string          `json:"event_type"`
	ResourceType             string          `json:"resource_type"`
	ServiceID                string          `json:"service_id"`
	Live                     *bool           `json:"live"`
	EventDetails             json.RawMessage `json:"event_details"`
}

// ParseMessage decodes one transport message. The returned event has no ID;
// the caller assigns one on ingestion.
func ParseMessage(raw []byte, receivedAt time.Time) (Event, error) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, malformed("invalid json", err)
	}

	externalID := strings.TrimSpace(msg.ResourceExternalID)
	if externalID == "" {
		return Event{}, malformed("missing resource_external_id", nil)
	}
	eventType := strings.ToUpper(strings.TrimSpace(msg.EventType))
	if eventType == "" {
		return Event{}, malformed("missing event_type", nil)
	}
	resourceType, err := ParseResourceType(msg.ResourceType)
	if err != nil {
		return Event{}, malformed("invalid resource_type", err)
	}
	eventDate, err := ParseTimestamp(msg.Timestamp)
	if err != nil {
		return Event{}, malformed("invalid timestamp", err)
	}
	payload, err := DecodePayload(msg.EventDetails)
	if err != nil {
		return Event{}, malformed("invalid event_details", err)
	}

	serviceID := strings.TrimSpace(msg.ServiceID)
	if serviceID == "" {
		serviceID, _ = payload.String("service_id")
	}
	var live bool
	if msg.Live != nil {
		live = *msg.Live
	} else {
		live, _ = payload.Bool("live")
	}

	return Event{
		ResourceExternalID:       externalID,
		ResourceType:             resourceType,
		ParentResourceExternalID: strings.TrimSpace(msg.ParentResourceExternalID),
		EventType:                eventType,
		EventDate:                eventDate,
		ServiceID:                serviceID,
		Live:                     live,
		Payload:                  payload,
		PayloadHash:              payload.Hash(),
		ReceivedAt:               NormalizeTime(receivedAt),
	}, nil
}
