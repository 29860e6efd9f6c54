// Package types defines the data model served by the ledger query
// layer: signed queries and blocks-queries, committed blocks, and the
// response variants handed back to clients.
//
// These are plain Go structs with cramberry struct tags for
// deterministic binary serialization. Transport concerns
// (gRPC codec registration) are handled in the transport packages.
package types

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

// Hash is a 32-byte SHA-256 digest.
type Hash [32]byte

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether the hash is all zero bytes.
func (h Hash) IsZero() bool { return h == Hash{} }

// Tx is an opaque committed transaction. The query layer never
// inspects its contents.
type Tx []byte

// AccountID names an account as "name@domain".
type AccountID string

// PublicKey is a raw ed25519 public key.
type PublicKey []byte

// String returns the hex encoding of the key.
func (k PublicKey) String() string { return hex.EncodeToString(k) }

// Signature binds a public key to a signature over a payload hash.
type Signature struct {
	PublicKey PublicKey `cramberry:"1"`
	Signed    []byte    `cramberry:"2"`
}

// hashOf returns the SHA-256 digest of the cramberry encoding of v.
// Encoding failures indicate a programming error in a types struct.
func hashOf(v any) Hash {
	data, err := cramberry.Marshal(v)
	if err != nil {
		panic("ledgerq/types: cannot encode " + err.Error())
	}
	return sha256.Sum256(data)
}
