package models

import "time"

// DefaultCredits is the signup grant for a newly provisioned account.
const DefaultCredits int64 = 500

// Account is keyed by the identity provider's subject id.
// Credits are in 1/100 of a currency unit and never go below zero.
type Account struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName,omitempty"`
	PhotoURL      string    `json:"photoURL,omitempty"`
	Credits       int64     `json:"credits"`
	IsAdmin       bool      `json:"isAdmin"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
