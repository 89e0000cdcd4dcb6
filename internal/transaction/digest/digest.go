// Package digest folds the known events of one resource into a single view.
package digest

import (
	"errors"
	"fmt"
	"sort"
	"time"

	eventdomain "github.com/smallbiznis/txledger/internal/event/domain"
	"github.com/smallbiznis/txledger/internal/transaction/state"
)

var ErrNoSalientEvent = errors.New("no_salient_event")

// Digest is computed fresh on every reconciliation and never persisted.
type Digest struct {
	MostRecentEventTimestamp   time.Time
	MostRecentEventType        string
	MostRecentSalientEventType string
	ResourceType               eventdomain.ResourceType
	ResourceExternalID         string
	ParentResourceExternalID   string
	ServiceID                  string
	Live                       bool
	EventCount                 int
	EventCreatedDate           time.Time
	EventPayload               eventdomain.Payload
}

// Aggregate folds events belonging to a single resource.
//
// Events are ordered by event date ascending. Events sharing a date keep
// their input order, so when dates collide the later input wins both the
// payload merge and the most recent selection. Exact duplicate deliveries
// are counted once.
//
// Aggregate panics on an empty slice or on events of different resources.
func Aggregate(events []eventdomain.Event) (Digest, error) {
	if len(events) == 0 {
		panic("digest: no events to aggregate")
	}
	first := events[0]
	for _, e := range events[1:] {
		if e.ResourceExternalID != first.ResourceExternalID || e.ResourceType != first.ResourceType {
			panic(fmt.Sprintf("digest: mixed resources %s/%s and %s/%s",
				first.ResourceType, first.ResourceExternalID, e.ResourceType, e.ResourceExternalID))
		}
	}

	ordered := distinct(events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EventDate.Before(ordered[j].EventDate)
	})

	d := Digest{
		ResourceType:       first.ResourceType,
		ResourceExternalID: first.ResourceExternalID,
		EventCount:         len(ordered),
		EventCreatedDate:   ordered[0].EventDate,
		EventPayload:       eventdomain.Payload{},
	}
	for _, e := range ordered {
		d.EventPayload.MergeFrom(e.Payload)
		if e.ParentResourceExternalID != "" {
			d.ParentResourceExternalID = e.ParentResourceExternalID
		}
		if e.ServiceID != "" {
			d.ServiceID = e.ServiceID
		}
		if state.IsSalient(e.EventType) {
			d.MostRecentSalientEventType = e.EventType
		}
	}

	last := ordered[len(ordered)-1]
	d.MostRecentEventTimestamp = last.EventDate
	d.MostRecentEventType = last.EventType
	d.Live = last.Live

	if d.MostRecentSalientEventType == "" {
		return Digest{}, ErrNoSalientEvent
	}
	return d, nil
}

func distinct(events []eventdomain.Event) []eventdomain.Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]eventdomain.Event, 0, len(events))
	for _, e := range events {
		key := e.DeliveryKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}
