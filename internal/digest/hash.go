// Package digest fingerprints served content so clients can tell when it
// changed: ETags for deck snapshots and the version line of the offline
// cache manifest.
package digest

import (
	"crypto/sha256"
	"fmt"
	"hash"
)

// Hash returns the SHA-256 of data as a hex string.
func Hash(data []byte) string {
	hashBytes := sha256.Sum256(data)
	return fmt.Sprintf("%x", hashBytes)
}

// ETag returns a strong entity tag for a response body.
func ETag(body []byte) string {
	return `"` + Hash(body) + `"`
}

// Builder hashes several named parts. Each part is prefixed with its name
// and length so moving bytes from one part to the next changes the sum.
type Builder struct {
	h hash.Hash
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{h: sha256.New()}
}

// Add feeds one named part into the digest.
func (b *Builder) Add(name string, data []byte) {
	fmt.Fprintf(b.h, "%s\x00%d\x00", name, len(data))
	b.h.Write(data)
}

// Sum returns the hex digest of everything added so far.
func (b *Builder) Sum() string {
	return fmt.Sprintf("%x", b.h.Sum(nil))
}
