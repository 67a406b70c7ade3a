package model

import (
	"time"

	"speaking-exam-subscription/internal/domain"

	"github.com/google/uuid"
)

// User is the account a subscription is granted to. Subscription state is
// embedded so there is a single per-user serialization point for grants.
type User struct {
	ID           string
	Username     string
	RegisteredAt time.Time
	LastActiveAt time.Time
	Subscription SubscriptionState
}

func NewUser(id, username string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if username == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		ID:           id,
		Username:     username,
		RegisteredAt: now,
		LastActiveAt: now,
		Subscription: SubscriptionState{Tier: TierFree},
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }
func (u *User) Touch()       { u.LastActiveAt = time.Now() }
