package warehouse

import "time"

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationDeducted ReservationStatus = "DEDUCTED"
)

type SKU struct {
	SKUID string `db:"skuid"`
	Name  string `db:"sku_name"`
}

// StockReservation records which location was charged for a line item.
// It is inserted as RESERVED and flipped to DEDUCTED in the same
// transaction once the physical decrement succeeds.
type StockReservation struct {
	OrderNumber string            `db:"order_number"`
	SKUID       string            `db:"skuid"`
	LocationID  int64             `db:"location_id"`
	Qty         int32             `db:"qty"`
	Status      ReservationStatus `db:"status"`
	UpdatedAt   time.Time         `db:"updated_at"`
}

type InventoryLine struct {
	LocationID int64  `db:"location_id"`
	SKUID      string `db:"skuid"`
	OnHand     int32  `db:"on_hand"`
}

type LocationStock struct {
	LocationID int64 `json:"locationId"`
	OnHand     int32 `json:"onHand"`
}

type StockSummary struct {
	SKUID        string          `json:"skuid"`
	Name         string          `json:"skuName"`
	TotalOnHand  int64           `json:"totalOnHand"`
	TopLocations []LocationStock `json:"topLocations"`
}
