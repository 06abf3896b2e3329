package delivery

import "time"

type Status string

const (
	StatusReady     Status = "READY"
	StatusShipping  Status = "SHIPPING"
	StatusDelivered Status = "DELIVERED"
)

// CanAdvanceTo allows only the next forward step; statuses never move back.
func (s Status) CanAdvanceTo(next Status) bool {
	switch s {
	case StatusReady:
		return next == StatusShipping
	case StatusShipping:
		return next == StatusDelivered
	default:
		return false
	}
}

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusReady, StatusShipping, StatusDelivered:
		return Status(s), true
	default:
		return "", false
	}
}

// DefaultCenterID is the fulfillment center new orders are projected onto.
const DefaultCenterID = 1

type ShippableOrder struct {
	OrderNumber string    `db:"order_number"`
	CenterID    int64     `db:"center_id"`
	CustomerID  *int64    `db:"customer_id"`
	Status      Status    `db:"order_status"`
	OrderedAt   time.Time `db:"ordered_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}
