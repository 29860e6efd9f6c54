package types

import "crypto/ed25519"

// Sign returns a signature over hash made with priv.
func Sign(hash Hash, priv ed25519.PrivateKey) Signature {
	pub := priv.Public().(ed25519.PublicKey)
	return Signature{
		PublicKey: PublicKey(pub),
		Signed:    ed25519.Sign(priv, hash[:]),
	}
}

// Verify reports whether sig is a valid signature over hash.
func (sig Signature) Verify(hash Hash) bool {
	if len(sig.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(sig.PublicKey), hash[:], sig.Signed)
}

// SignQuery returns a copy of q with a signature by priv appended.
func SignQuery(q Query, priv ed25519.PrivateKey) Query {
	q.Signatures = append(append([]Signature(nil), q.Signatures...), Sign(q.Hash(), priv))
	return q
}

// SignBlocksQuery returns a copy of q with a signature by priv appended.
func SignBlocksQuery(q BlocksQuery, priv ed25519.PrivateKey) BlocksQuery {
	q.Signatures = append(append([]Signature(nil), q.Signatures...), Sign(q.Hash(), priv))
	return q
}

// SignBlock returns a copy of b with a signature by priv appended.
func SignBlock(b Block, priv ed25519.PrivateKey) Block {
	b.Signatures = append(append([]Signature(nil), b.Signatures...), Sign(b.Hash(), priv))
	return b
}
