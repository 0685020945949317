package aadsso

import (
	"context"
	"sync"

	"github.com/hashicorp/go-uuid"
)

// User is a local user account. Accounts are created by auto-provisioning or
// resolved by lookup; this package never deletes them.
type User struct {
	ID         string
	Login      string
	Email      string
	GivenName  string
	FamilyName string

	// Roles is the user's local role set. Order carries no meaning.
	Roles []string
}

// NewUser is the data needed to auto-provision a local user. Externally
// authenticated users get no usable password; the provider is authoritative.
type NewUser struct {
	Login      string
	Email      string
	GivenName  string
	FamilyName string
}

// UserStore is the host application's local user directory.
type UserStore interface {
	// FindBy looks a user up by the given field. The second return value
	// reports whether a user was found; (nil, false, nil) is not an error.
	FindBy(ctx context.Context, field MatchField, value string) (*User, bool, error)

	// Create provisions a new local user.
	Create(ctx context.Context, u NewUser) (*User, error)

	// SetRoles replaces the user's role set entirely.
	SetRoles(ctx context.Context, userID string, roles []string) error
}

// InMemoryUserStore is a UserStore backed by a process-local map. It is
// intended for tests and demos; real hosts implement UserStore over their own
// user directory.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*User // by id
}

var _ UserStore = (*InMemoryUserStore)(nil)

// NewInMemoryUserStore creates an empty in-memory user store.
func NewInMemoryUserStore() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[string]*User)}
}

// Add inserts a user, assigning an id if it has none, and returns it.
func (s *InMemoryUserStore) Add(u User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		id, err := uuid.GenerateUUID()
		if err != nil {
			// crypto/rand failing is not something callers can act on here.
			panic(err)
		}
		u.ID = id
	}
	s.users[u.ID] = &u
	return cloneUser(&u)
}

func (s *InMemoryUserStore) FindBy(_ context.Context, field MatchField, value string) (*User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		switch field {
		case MatchEmail:
			if u.Email == value {
				return cloneUser(u), true, nil
			}
		default:
			if u.Login == value {
				return cloneUser(u), true, nil
			}
		}
	}
	return nil, false, nil
}

func (s *InMemoryUserStore) Create(_ context.Context, nu NewUser) (*User, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:         id,
		Login:      nu.Login,
		Email:      nu.Email,
		GivenName:  nu.GivenName,
		FamilyName: nu.FamilyName,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return cloneUser(u), nil
}

func (s *InMemoryUserStore) SetRoles(_ context.Context, userID string, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotRegistered
	}
	u.Roles = append([]string(nil), roles...)
	return nil
}

func cloneUser(u *User) *User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	return &c
}
