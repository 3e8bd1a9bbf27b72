package model

import (
	"time"

	"pixwave/internal/domain"

	"github.com/google/uuid"
)

// User is the slice of the gallery's user entity this core owns: identity,
// admin flag and the free-credit balance fields. Everything else about a user
// (sessions, uploads, likes) lives outside this service.
type User struct {
	ID           string
	Username     string
	RegisteredAt time.Time
	LastActiveAt time.Time
	IsAdmin      bool

	// CreditsFree is the consumable free-credit balance. Never negative.
	CreditsFree int64
	// CreditsFreeLastGrantAt records when the daily grant was last applied,
	// compared at UTC-day granularity.
	CreditsFreeLastGrantAt time.Time
}

func NewUser(id string, username string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if username == "" {
		return nil, domain.ErrInvalidArgument
	}
	u := &User{
		ID:           id,
		Username:     username,
		RegisteredAt: time.Now(),
		LastActiveAt: time.Now(),
	}
	return u, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }
func (u *User) Touch()       { u.LastActiveAt = time.Now() }

// Unlimited reports whether the user is exempt from credit consumption.
func (u *User) Unlimited() bool { return u.IsAdmin }

// GrantDueAt reports whether a daily grant is due at the given instant,
// comparing the last grant against `at` on UTC calendar-day boundaries.
func (u *User) GrantDueAt(at time.Time) bool {
	if u.CreditsFreeLastGrantAt.IsZero() {
		return true
	}
	ly, lm, ld := u.CreditsFreeLastGrantAt.UTC().Date()
	ny, nm, nd := at.UTC().Date()
	if ly != ny {
		return ly < ny
	}
	if lm != nm {
		return lm < nm
	}
	return ld < nd
}
