package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// MInstrument is the directory entry for one tradable symbol.
type MInstrument struct {
	Symbol    string     `json:"symbol"`
	Name      string     `json:"name"`
	Sector    string     `json:"sector"`
	Industry  string     `json:"industry"`
	MarketCap null.Float `json:"market_cap"`
	Active    bool       `json:"active"`
	UpdatedAt time.Time  `json:"updated_at"`
}
