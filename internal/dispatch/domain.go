package dispatch

import (
	"time"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
)

// Scan records units of an allocated item physically handed over.
type Scan struct {
	ID                 int64
	CompanyID          int64
	JobID              int64
	StockItemID        int64
	AllocationID       int64
	QuantityDispatched int64
	ScannedBy          int64
	ScannedByName      string
	Notes              string
	ScannedAt          time.Time
}

// ScanInput is one hand-out event.
type ScanInput struct {
	StockItemID int64
	Quantity    int64
	Notes       string
}

// ItemProgress summarises one allocated item of a job. Multiple allocations
// of the same item are summed.
type ItemProgress struct {
	StockItemID int64
	SKU         string
	Name        string
	Allocated   int64
	Dispatched  int64
}

// Remaining returns allocated units not yet scanned out.
func (p ItemProgress) Remaining() int64 {
	return p.Allocated - p.Dispatched
}

// Progress is the dispatch state of a job.
type Progress struct {
	JobID           int64
	TotalAllocated  int64
	TotalDispatched int64
	IsComplete      bool
	Items           []ItemProgress
}

// Session is returned when a storeman starts dispatching a job.
type Session struct {
	Job      jobcard.Job
	Progress Progress
}

// AllocationRef is the locked view of an allocation used by scan validation.
type AllocationRef struct {
	ID           int64
	QuantityUsed int64
}

func summarise(jobID int64, items []ItemProgress) Progress {
	progress := Progress{JobID: jobID, IsComplete: true, Items: items}
	if progress.Items == nil {
		progress.Items = []ItemProgress{}
	}
	for _, item := range items {
		progress.TotalAllocated += item.Allocated
		progress.TotalDispatched += item.Dispatched
		if item.Remaining() != 0 {
			progress.IsComplete = false
		}
	}
	return progress
}
