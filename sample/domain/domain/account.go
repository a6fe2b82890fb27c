package domain

import (
	"fmt"

	"github.com/0m3kk/eventlog/eventsrc"
)

// Account is a balance kept in minor units.
type Account struct {
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

func (a Account) Validate() error {
	if a.Owner == "" {
		return fmt.Errorf("%w: account owner cannot be empty", eventsrc.ErrRejected)
	}
	if a.Balance < 0 {
		return fmt.Errorf("%w: balance %d would overdraw the account", eventsrc.ErrRejected, a.Balance)
	}
	return nil
}
