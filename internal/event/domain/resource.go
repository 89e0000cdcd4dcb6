package domain

import (
	"fmt"
	"strings"
)

// ResourceType names the aggregate an event belongs to.
type ResourceType string

const (
	ResourceTypePayment   ResourceType = "PAYMENT"
	ResourceTypeRefund    ResourceType = "REFUND"
	ResourceTypeDispute   ResourceType = "DISPUTE"
	ResourceTypePayout    ResourceType = "PAYOUT"
	ResourceTypeAgreement ResourceType = "AGREEMENT"
	ResourceTypeService   ResourceType = "SERVICE"
)

var resourceTypes = map[ResourceType]struct{}{
	ResourceTypePayment:   {},
	ResourceTypeRefund:    {},
	ResourceTypeDispute:   {},
	ResourceTypePayout:    {},
	ResourceTypeAgreement: {},
	ResourceTypeService:   {},
}

// ParseResourceType accepts any casing of a known resource type.
func ParseResourceType(raw string) (ResourceType, error) {
	rt := ResourceType(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := resourceTypes[rt]; !ok {
		return "", fmt.Errorf("unknown resource type %q", raw)
	}
	return rt, nil
}

// Projectable reports whether events of this type produce a transaction row.
func (r ResourceType) Projectable() bool {
	switch r {
	case ResourceTypePayment, ResourceTypeRefund, ResourceTypeDispute, ResourceTypePayout:
		return true
	default:
		return false
	}
}

func (r ResourceType) String() string { return string(r) }
