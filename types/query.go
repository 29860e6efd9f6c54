package types

// GetAccount asks for an account's metadata.
type GetAccount struct {
	AccountID AccountID `cramberry:"1"`
}

// GetSignatories asks for the public keys allowed to sign on behalf of
// an account.
type GetSignatories struct {
	AccountID AccountID `cramberry:"1"`
}

// GetAccountDetail asks for one key (or all keys when Key is empty) of
// an account's key-value details.
type GetAccountDetail struct {
	AccountID AccountID `cramberry:"1"`
	Key       string    `cramberry:"2"`
}

// GetBlock asks for a single committed block.
type GetBlock struct {
	Height uint64 `cramberry:"1"`
}

// QueryPayload is a tagged union of the supported point queries.
// Exactly one field must be set.
type QueryPayload struct {
	GetAccount       *GetAccount       `cramberry:"1"`
	GetSignatories   *GetSignatories   `cramberry:"2"`
	GetAccountDetail *GetAccountDetail `cramberry:"3"`
	GetBlock         *GetBlock         `cramberry:"4"`
}

// Kind returns a short name of the set variant, or "" when the payload
// is empty or has more than one variant set.
func (p QueryPayload) Kind() string {
	kind, n := "", 0
	if p.GetAccount != nil {
		kind, n = "GetAccount", n+1
	}
	if p.GetSignatories != nil {
		kind, n = "GetSignatories", n+1
	}
	if p.GetAccountDetail != nil {
		kind, n = "GetAccountDetail", n+1
	}
	if p.GetBlock != nil {
		kind, n = "GetBlock", n+1
	}
	if n != 1 {
		return ""
	}
	return kind
}

// Query is a signed point query. It is never mutated after signing.
//
// QueryCounter is incremented by the client for every query it sends
// and guards against replay; zero is invalid.
type Query struct {
	CreatorAccountID AccountID    `cramberry:"1"`
	QueryCounter     uint64       `cramberry:"2"`
	CreatedTime      Timestamp    `cramberry:"3"`
	Payload          QueryPayload `cramberry:"4"`
	Signatures       []Signature  `cramberry:"5"`
}

type queryPayload struct {
	CreatorAccountID AccountID    `cramberry:"1"`
	QueryCounter     uint64       `cramberry:"2"`
	CreatedTime      Timestamp    `cramberry:"3"`
	Payload          QueryPayload `cramberry:"4"`
}

// Hash returns the digest of the unsigned query fields. This is the
// value signatures are produced over and the hash echoed back in
// every QueryResponse.
func (q Query) Hash() Hash {
	return hashOf(queryPayload{
		CreatorAccountID: q.CreatorAccountID,
		QueryCounter:     q.QueryCounter,
		CreatedTime:      q.CreatedTime,
		Payload:          q.Payload,
	})
}

// BlocksQuery is a signed request for a stream of committed blocks.
type BlocksQuery struct {
	CreatorAccountID AccountID `cramberry:"1"`
	QueryCounter     uint64    `cramberry:"2"`
	CreatedTime      Timestamp `cramberry:"3"`
	// Height to start from, inclusive. Nil starts from the next block
	// committed after the request is accepted.
	Height     *uint64     `cramberry:"4"`
	Signatures []Signature `cramberry:"5"`
}

type blocksQueryPayload struct {
	CreatorAccountID AccountID `cramberry:"1"`
	QueryCounter     uint64    `cramberry:"2"`
	CreatedTime      Timestamp `cramberry:"3"`
	Height           *uint64   `cramberry:"4"`
}

// Hash returns the digest of the unsigned blocks-query fields.
func (q BlocksQuery) Hash() Hash {
	return hashOf(blocksQueryPayload{
		CreatorAccountID: q.CreatorAccountID,
		QueryCounter:     q.QueryCounter,
		CreatedTime:      q.CreatedTime,
		Height:           q.Height,
	})
}
