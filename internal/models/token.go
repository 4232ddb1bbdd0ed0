package models

import "time"

// TokenPurpose separates the single-use token families sharing one store.
type TokenPurpose string

const (
	PurposePasswordReset TokenPurpose = "password_reset"
	PurposeOAuthState    TokenPurpose = "oauth_state"
)

// Token is a time-boxed, single-use secret. Value is only populated on the
// token returned from issuance; stores keep Hash.
type Token struct {
	Value     string       `json:"-"`
	Hash      string       `json:"-"`
	Purpose   TokenPurpose `json:"purpose"`
	Subject   string       `json:"subject"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	Used      bool         `json:"used"`
}

// Usable reports whether the token may still be consumed at now.
func (t *Token) Usable(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// Spent reports whether a sweep may discard the token.
func (t *Token) Spent(now time.Time) bool {
	return t.Used || !now.Before(t.ExpiresAt)
}
