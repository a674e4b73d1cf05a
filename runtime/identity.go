// Package runtime holds the identity of this client process: the GUID it
// presents to servers and the session id sent during the handshake.
package runtime

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GUIDBase is OR-ed with the seed to form the client GUID.
const GUIDBase uint64 = 0x0210000100000000

// Identity is created once per client and passed to the components that need
// it.
type Identity struct {
	seed    uint32
	session uuid.UUID
	created time.Time
}

// NewIdentity seeds the GUID from the current millisecond tick and draws a
// random session id.
func NewIdentity() *Identity {
	now := time.Now()
	return &Identity{
		seed:    uint32(now.UnixMilli()),
		session: uuid.New(),
		created: now,
	}
}

// NewIdentityWithSeed builds a deterministic identity. An empty session
// string draws a random one.
func NewIdentityWithSeed(seed uint32, session string) (*Identity, error) {
	id := uuid.New()
	if session != "" {
		var err error
		if id, err = uuid.Parse(session); err != nil {
			return nil, fmt.Errorf("invalid session id %q: %w", session, err)
		}
	}
	return &Identity{seed: seed, session: id, created: time.Now()}, nil
}

// GUID returns GUIDBase | seed.
func (i *Identity) GUID() uint64 {
	return GUIDBase | uint64(i.seed)
}

func (i *Identity) Seed() uint32 { return i.seed }

// Session returns the session id in canonical form.
func (i *Identity) Session() string { return i.session.String() }

// Created returns when the identity was made.
func (i *Identity) Created() time.Time { return i.created }
