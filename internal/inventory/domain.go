package inventory

import (
	"errors"
	"time"
)

// MovementType enumerates supported ledger movements.
type MovementType string

const (
	// MovementIn represents an inbound movement.
	MovementIn MovementType = "in"
	// MovementOut represents an outbound movement.
	MovementOut MovementType = "out"
	// MovementAdjustment represents a signed manual correction.
	MovementAdjustment MovementType = "adjustment"
)

// Valid reports whether the movement type is known.
func (t MovementType) Valid() bool {
	return t == MovementIn || t == MovementOut || t == MovementAdjustment
}

// ReferenceType names the operation that caused a movement.
type ReferenceType string

const (
	ReferenceAllocation ReferenceType = "allocation"
	ReferenceDispatch   ReferenceType = "dispatch"
	ReferenceDelivery   ReferenceType = "delivery"
	ReferenceManual     ReferenceType = "manual"
	ReferenceImport     ReferenceType = "import"
)

// StockItem is a material with an on-hand quantity. Quantity is a cache of
// the net effect of the item's movements.
type StockItem struct {
	ID            int64
	CompanyID     int64
	SKU           string
	Name          string
	Quantity      int64
	MinStockLevel int64
	UpdatedAt     time.Time
}

// BelowMinimum reports whether the item needs replenishing.
func (i StockItem) BelowMinimum() bool {
	return i.MinStockLevel > 0 && i.Quantity < i.MinStockLevel
}

// Deficit returns how many units are missing to reach the minimum level.
func (i StockItem) Deficit() int64 {
	if !i.BelowMinimum() {
		return 0
	}
	return i.MinStockLevel - i.Quantity
}

// Movement is an append-only ledger entry. Quantity is positive for in/out
// movements and signed for adjustments.
type Movement struct {
	ID            int64
	CompanyID     int64
	StockItemID   int64
	Type          MovementType
	Quantity      int64
	ReferenceType ReferenceType
	ReferenceID   string
	Notes         string
	CreatedBy     int64
	CreatedAt     time.Time
}

// Delta returns the signed effect of the movement on on-hand quantity.
func (m Movement) Delta() int64 {
	switch m.Type {
	case MovementIn:
		return m.Quantity
	case MovementOut:
		return -m.Quantity
	default:
		return m.Quantity
	}
}

// Allocation reserves quantity of one stock item for one job. QuantityUsed
// never changes after creation.
type Allocation struct {
	ID              int64
	CompanyID       int64
	JobID           int64
	StockItemID     int64
	QuantityUsed    int64
	AllocatedBy     int64
	AllocatedByName string
	MovementID      int64
	Notes           string
	CreatedAt       time.Time
}

// AllocateInput describes a reservation request.
type AllocateInput struct {
	JobID       int64
	StockItemID int64
	Quantity    int64
	Notes       string
}

// MovementInput describes a generic ledger append.
type MovementInput struct {
	StockItemID   int64
	Type          MovementType
	Quantity      int64
	ReferenceType ReferenceType
	ReferenceID   string
	Notes         string
}

// Reconciliation compares the cached quantity with the movement log.
type Reconciliation struct {
	StockItemID int64
	Recorded    int64
	Derived     int64
	Movements   int
}

// Consistent reports whether cache and log agree.
func (r Reconciliation) Consistent() bool {
	return r.Recorded == r.Derived
}

// ErrInvalidQuantity indicates a zero or negative quantity where a positive one is required.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
