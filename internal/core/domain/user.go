package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultLanguage = "RUS"

type User struct {
	TelegramID int64
	Name       string
	Username   string
	Balance    decimal.Decimal
	Language   string
	LastVisit  time.Time
	IsBanned   bool
}

// Requester is the normalized identity of whoever triggered an action,
// independent of the chat platform object it came from.
type Requester struct {
	ID       int64
	Username string
	Name     string
}
