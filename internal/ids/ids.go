// Package ids generates short, URL-safe, unguessable room identifiers.
package ids

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/google/uuid"
)

// Generator mints room IDs. It is pure: all randomness comes from the
// injected io.Reader, so tests can swap in a deterministic source.
type Generator struct {
	rng io.Reader
}

// New returns a Generator backed by crypto/rand.Reader, the production
// default.
func New() *Generator {
	return &Generator{rng: rand.Reader}
}

// NewWithReader returns a Generator backed by an arbitrary entropy source;
// used by tests to make room IDs deterministic.
func NewWithReader(rng io.Reader) *Generator {
	return &Generator{rng: rng}
}

// New mints one ID: a random (version 4) UUID's 16 bytes, rendered as
// unpadded URL-safe base64. The result is a 22-character token carrying
// 122 bits of entropy (128 bits minus the 6 fixed version/variant bits).
func (g *Generator) New() (string, error) {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return "", err
	}
	raw, err := id.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
