// Package state maps salient event types to transaction lifecycle states.
//
// The tables are built once at package initialisation and never mutated.
// Every state carries an external representation for each status model
// version; V1 collapses payment failures into "failed" while V2 reports the
// specific outcome.
package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is the transaction type a state table belongs to.
type Kind string

const (
	KindPayment Kind = "PAYMENT"
	KindRefund  Kind = "REFUND"
	KindDispute Kind = "DISPUTE"
	KindPayout  Kind = "PAYOUT"
)

// Kinds lists every projectable kind in lookup order.
var Kinds = []Kind{KindPayment, KindRefund, KindDispute, KindPayout}

func (k Kind) Valid() bool {
	switch k {
	case KindPayment, KindRefund, KindDispute, KindPayout:
		return true
	}
	return false
}

func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(raw)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown transaction kind %q", raw)
	}
	return k, nil
}

// Version selects the external status vocabulary.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

func ParseVersion(raw string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "v1":
		return V1, nil
	case "2", "v2":
		return V2, nil
	default:
		return 0, fmt.Errorf("unknown status version %q", raw)
	}
}

func (v Version) Valid() bool { return v == V1 || v == V2 }

// External is the status as shown to API consumers.
type External struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// State is one lifecycle state of a transaction kind. Name is the stored
// machine code, Status the human label.
type State struct {
	Kind     Kind
	Name     string
	Status   string
	Finished bool
	CanRetry bool
	V1       External
	V2       External
}

func (s State) External(v Version) External {
	if v == V1 {
		return s.V1
	}
	return s.V2
}

// Resolved is the outcome of mapping an event type to a state.
type Resolved struct {
	State     State
	External  External
	EventType string
	// CrossType is set when the event type belongs to another kind's table.
	CrossType bool
}

var ErrNotSalient = errors.New("not_salient")

type table struct {
	states map[string]State
	events map[string]string
}

var (
	tables     map[Kind]table
	eventIndex map[string]Kind
)

func init() {
	tables = map[Kind]table{
		KindPayment: build(KindPayment, paymentStates, paymentEvents),
		KindRefund:  build(KindRefund, refundStates, refundEvents),
		KindDispute: build(KindDispute, disputeStates, disputeEvents),
		KindPayout:  build(KindPayout, payoutStates, payoutEvents),
	}
	eventIndex = make(map[string]Kind)
	for _, kind := range Kinds {
		for eventType := range tables[kind].events {
			if owner, dup := eventIndex[eventType]; dup {
				panic(fmt.Sprintf("state: event type %s mapped by %s and %s", eventType, owner, kind))
			}
			eventIndex[eventType] = kind
		}
	}
}

func build(kind Kind, states []State, events map[string]string) table {
	t := table{
		states: make(map[string]State, len(states)),
		events: make(map[string]string, len(events)),
	}
	for _, s := range states {
		s.Kind = kind
		t.states[s.Name] = s
	}
	for eventType, name := range events {
		if _, ok := t.states[name]; !ok {
			panic(fmt.Sprintf("state: %s event %s maps to unknown state %s", kind, eventType, name))
		}
		t.events[eventType] = name
	}
	return t
}

// Derive maps an event type to a state without knowing the resource kind.
// Tables are consulted in the order of Kinds; false means not salient.
func Derive(eventType string, v Version) (Resolved, bool) {
	kind, ok := eventIndex[eventType]
	if !ok {
		return Resolved{}, false
	}
	return resolve(tables[kind], eventType, v), true
}

// DeriveFor maps an event type using the kind's own table first. An event
// type owned by another kind still resolves, flagged CrossType.
func DeriveFor(kind Kind, eventType string, v Version) (Resolved, error) {
	if t, ok := tables[kind]; ok {
		if _, ok := t.events[eventType]; ok {
			return resolve(t, eventType, v), nil
		}
	}
	resolved, ok := Derive(eventType, v)
	if !ok {
		return Resolved{}, ErrNotSalient
	}
	resolved.CrossType = true
	return resolved, nil
}

func resolve(t table, eventType string, v Version) Resolved {
	s := t.states[t.events[eventType]]
	return Resolved{State: s, External: s.External(v), EventType: eventType}
}

// IsSalient reports whether any table maps the event type.
func IsSalient(eventType string) bool {
	_, ok := eventIndex[eventType]
	return ok
}

// IsSalientFor reports whether the kind's own table maps the event type.
func IsSalientFor(kind Kind, eventType string) bool {
	_, ok := tables[kind].events[eventType]
	return ok
}

func Lookup(kind Kind, name string) (State, bool) {
	s, ok := tables[kind].states[name]
	return s, ok
}

// NamesForStatus returns the state names of kind whose external status under
// v equals status, sorted.
func NamesForStatus(kind Kind, v Version, status string) []string {
	status = strings.ToLower(strings.TrimSpace(status))
	var out []string
	for name, s := range tables[kind].states {
		if s.External(v).Status == status {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// SalientEventTypes lists the event types of a kind's table, sorted.
func SalientEventTypes(kind Kind) []string {
	out := make([]string, 0, len(tables[kind].events))
	for eventType := range tables[kind].events {
		out = append(out, eventType)
	}
	sort.Strings(out)
	return out
}
