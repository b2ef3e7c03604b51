// Package model defines the data structures used throughout the application.
package model

import "time"

// AccountState is derived from the confirmation flag, never stored.
type AccountState string

const (
	StatePendingConfirmation AccountState = "pending_confirmation"
	StateConfirmed           AccountState = "confirmed"
)

// DefaultStatus is the presence status a new account starts with.
const DefaultStatus = "online"

// Account is a registered chat user.
//
// WHY NO PASSWORD FIELD?
// The bcrypt hash lives only in the accounts table. Keeping it off the struct
// means an Account can be marshalled straight to JSON (GET /accounts/me)
// without any risk of leaking hash material. The store checks passwords
// through VerifyPassword instead.
//
// ID is a numeric sequence number assigned once by the store. Ids are
// unique and increasing but may have gaps (a rolled back insert burns one).
type Account struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"displayName"`
	Bio            string    `json:"bio"`
	Status         string    `json:"status"`
	ProfilePicture string    `json:"profilePicture"`
	IsConfirmed    bool      `json:"isConfirmed"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// State reports where the account is in the confirmation lifecycle.
func (a *Account) State() AccountState {
	if a.IsConfirmed {
		return StateConfirmed
	}
	return StatePendingConfirmation
}
