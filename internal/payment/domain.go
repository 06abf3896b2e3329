package payment

import "time"

type OrderStatus string

const (
	OrderStatusCreated OrderStatus = "CREATED"
	OrderStatusPaid    OrderStatus = "PAID"
)

type Order struct {
	ID          int64       `db:"order_id"`
	OrderNumber string      `db:"order_number"`
	CustomerID  *int64      `db:"customer_id"`
	Status      OrderStatus `db:"order_status"`
	TotalAmount float64     `db:"total_amount"`
}

type Payment struct {
	ID            int64     `db:"payment_id"`
	OrderID       int64     `db:"order_id"`
	CustomerID    *int64    `db:"customer_id"`
	Amount        float64   `db:"amount"`
	Provider      string    `db:"provider"`
	TransactionID string    `db:"transaction_id"`
	ApprovedAt    time.Time `db:"approved_at"`
}
