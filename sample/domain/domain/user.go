package domain

import (
	"fmt"
	"strings"

	"github.com/0m3kk/eventlog/eventsrc"
)

// User is the state of a user account.
type User struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Active        bool   `json:"active"`
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: user name cannot be empty", eventsrc.ErrRejected)
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: invalid email %q", eventsrc.ErrRejected, u.Email)
	}
	return nil
}

// ErrUserInactive is returned for commands on a deactivated user.
var ErrUserInactive = fmt.Errorf("%w: user is deactivated", eventsrc.ErrRejected)

// ErrAlreadyExists is returned when creating an aggregate that has history.
var ErrAlreadyExists = fmt.Errorf("%w: aggregate already exists", eventsrc.ErrRejected)
