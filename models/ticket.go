package models

import (
	"github.com/shopspring/decimal"
)

type TicketCategory struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	MaxPerBuy int             `json:"max_per_buy"`
}

// TicketSelection is what the storefront posts for one category.
type TicketSelection struct {
	Category string `json:"category"`
	Quantity int    `json:"quantity"`
}
