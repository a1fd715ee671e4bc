package sessions

import (
	"context"
	"errors"
	"time"
)

// ThreadPrefix prefixes the session id to form a thread id.
const ThreadPrefix = "support-thread-"

// ErrInvalidKey is returned for keys with an empty resource or thread id.
var ErrInvalidKey = errors.New("session key requires resource and thread ids")

// Key addresses one customer's conversational state. It is the only way
// profiles are stored or looked up.
type Key struct {
	ResourceID string `json:"resource_id"`
	ThreadID   string `json:"thread_id"`
}

// KeyFor derives the key for a session. The resource id is the customer id
// when known, otherwise the session id.
func KeyFor(customerID, sessionID string) Key {
	resource := customerID
	if resource == "" {
		resource = sessionID
	}
	return Key{ResourceID: resource, ThreadID: ThreadPrefix + sessionID}
}

// Valid reports whether both parts of the key are set.
func (k Key) Valid() bool {
	return k.ResourceID != "" && k.ThreadID != ThreadPrefix && k.ThreadID != ""
}

func (k Key) String() string {
	return k.ResourceID + "/" + k.ThreadID
}

// Profile is the state remembered for a customer within a session.
type Profile struct {
	CustomerID      string    `json:"customer_id"`
	StoreName       string    `json:"store_name"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	Location        string    `json:"location,omitempty"`
	LastInteraction time.Time `json:"last_interaction"`
	CurrentAgent    string    `json:"current_agent,omitempty"`
	SessionStart    time.Time `json:"session_start"`
}

// Store persists profiles by key.
//
// Get returns (nil, false, nil) when nothing is stored under key; a non-nil
// error always means the storage itself failed. Writes carry no transaction
// or merge semantics: concurrent Puts to one key are last-write-wins.
type Store interface {
	Get(ctx context.Context, key Key) (*Profile, bool, error)
	Put(ctx context.Context, key Key, profile *Profile) error
	Clear(ctx context.Context, key Key) error
}

// Remember stores profile after a successful customer lookup. The session
// start recorded by an earlier Remember is preserved.
func Remember(ctx context.Context, store Store, key Key, profile Profile, agent string, now time.Time) (*Profile, error) {
	existing, ok, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	updated := profile
	updated.LastInteraction = now
	if agent != "" {
		updated.CurrentAgent = agent
	}
	switch {
	case ok && !existing.SessionStart.IsZero():
		updated.SessionStart = existing.SessionStart
	case updated.SessionStart.IsZero():
		updated.SessionStart = now
	}

	if err := store.Put(ctx, key, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Touch records that agent accessed the session. It returns false without
// writing when no profile is stored.
func Touch(ctx context.Context, store Store, key Key, agent string, now time.Time) (bool, error) {
	profile, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	profile.LastInteraction = now
	if agent != "" {
		profile.CurrentAgent = agent
	}
	if err := store.Put(ctx, key, profile); err != nil {
		return false, err
	}
	return true, nil
}
