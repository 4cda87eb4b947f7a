package inventory

import "context"

// ReorderTrigger is notified after a committed ledger write leaves an item
// below its minimum level. Implementations must not block; failures are
// logged by the caller and never undo the write.
type ReorderTrigger interface {
	TriggerReorder(ctx context.Context, companyID, stockItemID int64) error
}
