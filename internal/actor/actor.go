// Package actor models the acting identity for settlement operations.
//
// Roles are a closed enum and authorization is a capability-set lookup,
// evaluated once per operation. There is deliberately no admin fallback for
// finance capabilities: an administrator without the finance role cannot
// approve payouts, release escrow, or mark orders settled.
package actor

import (
	"context"
	"errors"
)

var ErrForbidden = errors.New("actor lacks required capability")

// Role is a closed enumeration of marketplace roles.
type Role string

const (
	RoleBuyer     Role = "BUYER"
	RoleSupplier  Role = "SUPPLIER"
	RoleCreator   Role = "CREATOR"
	RoleAffiliate Role = "AFFILIATE"
	RoleOps       Role = "OPS"
	RoleAdmin     Role = "ADMIN"
	RoleFinance   Role = "FINANCE"
	RoleSystem    Role = "SYSTEM"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSupplier, RoleCreator, RoleAffiliate, RoleOps, RoleAdmin, RoleFinance, RoleSystem:
		return true
	}
	return false
}

// Capability is a privilege required by a settlement operation.
type Capability string

const (
	CapPlaceOrder      Capability = "place_order"      // create orders, cancel own pending orders
	CapConfirmDelivery Capability = "confirm_delivery" // buyer/ops delivery confirmation
	CapFulfil          Capability = "fulfil"           // supplier-side progression
	CapShipmentOps     Capability = "shipment_ops"     // ops shipment transitions
	CapOpenDispute     Capability = "open_dispute"     // buyer dispute creation
	CapResolveDispute  Capability = "resolve_dispute"  // ops arbitration
	CapRequestPayout   Capability = "request_payout"   // beneficiary withdrawal request
	CapFinance         Capability = "finance"          // approve payouts/refunds, release escrow, settle orders
	CapAuditRead       Capability = "audit_read"       // query the audit trail
)

// capabilities is the role -> capability set table. This is the single place
// authorization rules live; handlers and services only ever consult it.
var capabilities = map[Role]map[Capability]bool{
	RoleBuyer: {
		CapPlaceOrder:      true,
		CapConfirmDelivery: true,
		CapOpenDispute:     true,
	},
	RoleSupplier: {
		CapFulfil:        true,
		CapRequestPayout: true,
	},
	RoleCreator: {
		CapFulfil:        true,
		CapRequestPayout: true,
	},
	RoleAffiliate: {
		CapRequestPayout: true,
	},
	RoleOps: {
		CapShipmentOps:     true,
		CapConfirmDelivery: true,
		CapResolveDispute:  true,
		CapAuditRead:       true,
	},
	RoleAdmin: {
		// Administrators manage the marketplace but hold no financial
		// capability. The original system let FINANCE_ADMIN checks fall
		// back to ADMIN; that hole is not reproduced here.
		CapAuditRead: true,
	},
	RoleFinance: {
		CapFinance:   true,
		CapAuditRead: true,
	},
	RoleSystem: {},
}

// Actor is the resolved identity attached to a request.
type Actor struct {
	ID   string
	Role Role
}

// Can reports whether the actor holds the capability.
func (a Actor) Can(c Capability) bool {
	return capabilities[a.Role][c]
}

// Require returns ErrForbidden unless the actor holds the capability.
func (a Actor) Require(c Capability) error {
	if !a.Can(c) {
		return ErrForbidden
	}
	return nil
}

// System is the internal actor used for background work (e.g. transitions
// applied by the dispute resolver on behalf of a resolution).
var System = Actor{ID: "system", Role: RoleSystem}

type contextKey string

const actorKey contextKey = "settlement_actor"

// WithActor attaches the acting identity to the context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// FromContext returns the actor attached to the context.
// The zero Actor (no role) holds no capabilities.
func FromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey).(Actor); ok {
		return a
	}
	return Actor{}
}
