package shared

import "fmt"

// SignatureKey builds the redis key holding a user's current signature URL.
func SignatureKey(companyID, userID int64) string {
	return fmt.Sprintf("stockcontrol:signature:%d:%d", companyID, userID)
}

// DeliveryKey builds the redis key used to de-duplicate side-effect deliveries.
func DeliveryKey(kind, key string) string {
	return fmt.Sprintf("stockcontrol:delivered:%s:%s", kind, key)
}
