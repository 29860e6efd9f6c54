package types

// Block is a committed ledger record. Heights start at 1 and increase
// by exactly one per commit; height is the only key used to order or
// filter blocks in a stream.
type Block struct {
	Height      uint64      `cramberry:"1"`
	PrevHash    Hash        `cramberry:"2"`
	CreatedTime Timestamp   `cramberry:"3"`
	Txs         []Tx        `cramberry:"4"`
	Signatures  []Signature `cramberry:"5"`
}

// blockPayload is the signed portion of a Block.
type blockPayload struct {
	Height      uint64    `cramberry:"1"`
	PrevHash    Hash      `cramberry:"2"`
	CreatedTime Timestamp `cramberry:"3"`
	Txs         []Tx      `cramberry:"4"`
}

// Hash returns the digest of the block payload. Signatures are not
// part of the hash.
func (b Block) Hash() Hash {
	return hashOf(blockPayload{
		Height:      b.Height,
		PrevHash:    b.PrevHash,
		CreatedTime: b.CreatedTime,
		Txs:         b.Txs,
	})
}

// BlockErrorResponse is the error payload of a blocks-query stream.
type BlockErrorResponse struct {
	Message string `cramberry:"1"`
}

// BlockQueryResponse is one element of a blocks-query stream: either a
// committed block or an error. Exactly one field is set.
type BlockQueryResponse struct {
	Block *Block              `cramberry:"1"`
	Error *BlockErrorResponse `cramberry:"2"`
}

// IsError reports whether the response carries the error variant.
func (r BlockQueryResponse) IsError() bool { return r.Error != nil }

// Height returns the height of the carried block, or false for the
// error variant.
func (r BlockQueryResponse) Height() (uint64, bool) {
	if r.Block == nil {
		return 0, false
	}
	return r.Block.Height, true
}
