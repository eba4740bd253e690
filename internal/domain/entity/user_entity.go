package entity

import (
	"time"
)

// User is the aggregate root for the account domain.
// Password holds a bcrypt hash, never the plaintext.
//
// OTP and OTPExpiry are both set between registration and a successful
// verification, and both nil afterwards. IsEmailVerified only ever flips
// from false to true.
type User struct {
	ID              string
	FullName        string
	Email           string
	Password        string
	ProfileImageURL string
	IsEmailVerified bool
	OTP             *string
	OTPExpiry       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
