package domain

import "github.com/shopspring/decimal"

// Carrier is a logistics partner and its distance pricing.
// Zero rate or bounds mean the partner did not configure them.
type Carrier struct {
	ID            string
	Name          string
	RatePerKm     decimal.Decimal
	MinCharge     decimal.Decimal
	MaxCharge     decimal.Decimal
	EstimatedTime string
	Active        bool
}
