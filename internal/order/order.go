// Package order governs the order lifecycle. Transitions are role-scoped
// through a single table; anything not in the table is illegal no matter
// who asks. Delivery confirmation lives here too, and deliberately has no
// escrow dependency: confirming receipt is evidence, not authorization to
// move money.
package order

import (
	"errors"
	"time"

	"github.com/tradewind/settlement/internal/actor"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrShipmentNotFound  = errors.New("shipment not found")
	ErrIllegalTransition = errors.New("illegal order transition")
	ErrConflict          = errors.New("order status changed concurrently")
	ErrInvalidRequest    = errors.New("invalid order request")
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusPaid            Status = "PAID"
	StatusProcessing      Status = "PROCESSING"
	StatusShipped         Status = "SHIPPED"
	StatusInTransit       Status = "IN_TRANSIT"
	StatusDelivered       Status = "DELIVERED"
	StatusCompleted       Status = "COMPLETED"
	StatusDisputed        Status = "DISPUTED"
	StatusCancelled       Status = "CANCELLED"
	StatusRefundRequested Status = "REFUND_REQUESTED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusProcessing, StatusShipped, StatusInTransit,
		StatusDelivered, StatusCompleted, StatusDisputed, StatusCancelled, StatusRefundRequested:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// EscrowLocked reports whether an order in this status still has escrowed
// funds in play. Disputes may only be opened from these states.
func (s Status) EscrowLocked() bool {
	switch s {
	case StatusPaid, StatusProcessing, StatusShipped, StatusInTransit, StatusDelivered:
		return true
	}
	return false
}

// edge is one permitted transition and the capability it demands. The
// system actor may take any edge except into COMPLETED, which is
// finance-only without exception.
type edge struct {
	to  Status
	cap actor.Capability
}

// transitions is the complete machine. DISPUTED is absent on purpose:
// dispute suspension and return go through the resolver's dedicated
// methods, never through Transition.
var transitions = map[Status][]edge{
	StatusPending: {
		{StatusPaid, actor.CapFinance},
		{StatusCancelled, actor.CapPlaceOrder},
	},
	StatusPaid: {
		{StatusProcessing, actor.CapFulfil},
		{StatusRefundRequested, actor.CapPlaceOrder},
		{StatusCancelled, actor.CapFinance},
	},
	StatusRefundRequested: {
		{StatusCancelled, actor.CapFinance},
		{StatusPaid, actor.CapFinance}, // refund request declined
	},
	StatusProcessing: {
		{StatusShipped, actor.CapFulfil},
	},
	StatusShipped: {
		{StatusInTransit, actor.CapShipmentOps},
	},
	StatusInTransit: {
		{StatusDelivered, actor.CapShipmentOps},
	},
	StatusDelivered: {
		{StatusCompleted, actor.CapFinance},
	},
}

// allowed returns the capability needed for from -> to, or
// ErrIllegalTransition when the edge does not exist.
func allowed(from, to Status) (actor.Capability, error) {
	for _, e := range transitions[from] {
		if e.to == to {
			return e.cap, nil
		}
	}
	return "", ErrIllegalTransition
}

// Order is one buyer and supplier transaction.
type Order struct {
	ID               string     `json:"id"`
	BuyerID          string     `json:"buyerId"`
	SupplierID       string     `json:"supplierId"`
	TotalAmount      int64      `json:"totalAmount"`
	Currency         string     `json:"currency"`
	Status           Status     `json:"status"`
	PreDisputeStatus Status     `json:"preDisputeStatus,omitempty"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
	ShippedAt        *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	CancelledAt      *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Shipment tracks delivery for one order. DeliveryConfirmed is evidence
// consumed by the escrow release path; setting it never moves money.
type Shipment struct {
	OrderID           string    `json:"orderId"`
	Carrier           string    `json:"carrier,omitempty"`
	TrackingNumber    string    `json:"trackingNumber,omitempty"`
	ConfirmedByBuyer  bool      `json:"confirmedByBuyer"`
	ConfirmedByOps    bool      `json:"confirmedByOps"`
	DeliveryConfirmed bool      `json:"deliveryConfirmed"`
	ProofOfDelivery   string    `json:"proofOfDelivery,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
