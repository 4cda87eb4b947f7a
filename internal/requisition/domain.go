package requisition

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks the requisition lifecycle.
type Status string

const (
	StatusPending           Status = "pending"
	StatusApproved          Status = "approved"
	StatusOrdered           Status = "ordered"
	StatusPartiallyReceived Status = "partially_received"
	StatusReceived          Status = "received"
	StatusCancelled         Status = "cancelled"
)

// Active reports whether the requisition still blocks a duplicate.
func (s Status) Active() bool {
	return s != StatusCancelled
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusReceived || s == StatusCancelled
}

// Source records what caused the requisition.
type Source string

const (
	SourceJob     Source = "job"
	SourceReorder Source = "reorder"
)

// Requisition is a request to source or replenish materials.
type Requisition struct {
	ID          int64
	CompanyID   int64
	Number      string
	Source      Source
	JobID       int64
	StockItemID int64
	Status      Status
	CreatedBy   string
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Items       []Item
}

// Item is one requisition line. QuantityRequired is counted in packs for job
// lines and in stock units for reorder lines.
type Item struct {
	ID               int64
	RequisitionID    int64
	StockItemID      int64
	Product          string
	LitresRequired   decimal.Decimal
	PackSizeLitres   decimal.Decimal
	PacksToOrder     int64
	QuantityRequired int64
	QuantityReceived int64
}

// Outstanding returns the quantity still expected.
func (i Item) Outstanding() int64 {
	if i.QuantityReceived >= i.QuantityRequired {
		return 0
	}
	return i.QuantityRequired - i.QuantityReceived
}

// MaterialRequirement is one entry of a job's required-materials breakdown.
type MaterialRequirement struct {
	Product        string
	StockItemID    int64
	LitresRequired decimal.Decimal
	PackSizeLitres decimal.Decimal
}

// ReceiptLine reports goods received against a requisition line.
type ReceiptLine struct {
	ItemID   int64 `json:"item_id"`
	Quantity int64 `json:"quantity"`
}

// mergeLines folds repeated lines for the same item, keeping first-seen order.
func mergeLines(lines []ReceiptLine) []ReceiptLine {
	out := make([]ReceiptLine, 0, len(lines))
	index := make(map[int64]int, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ItemID]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ItemID] = len(out)
		out = append(out, line)
	}
	return out
}

// sameLines reports whether two receipts carry the same quantity per item.
func sameLines(a, b []ReceiptLine) bool {
	totals := make(map[int64]int64, len(a))
	for _, line := range a {
		totals[line.ItemID] += line.Quantity
	}
	for _, line := range b {
		totals[line.ItemID] -= line.Quantity
	}
	for _, v := range totals {
		if v != 0 {
			return false
		}
	}
	return true
}

// ReceiveInput groups a delivery. Key makes redelivery of the same receipt a no-op.
type ReceiveInput struct {
	Key   string
	Lines []ReceiptLine
}

// ListFilter narrows requisition listings.
type ListFilter struct {
	Status Status
	Source Source
	Limit  int
}

// PacksToOrder returns ceil(litres / packSize). A non-positive pack size
// falls back to fallback.
func PacksToOrder(litres, packSize, fallback decimal.Decimal) int64 {
	if !packSize.IsPositive() {
		packSize = fallback
	}
	if !packSize.IsPositive() || !litres.IsPositive() {
		return 0
	}
	return litres.Div(packSize).Ceil().IntPart()
}

var (
	// ErrNoReceiptLines indicates an empty delivery.
	ErrNoReceiptLines = errors.New("requisition: receipt has no lines")
	errReceiptApplied = errors.New("requisition: receipt already applied")
)
