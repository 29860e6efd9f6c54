package types

import "fmt"

// ErrorKind classifies an error QueryResponse.
type ErrorKind uint8

const (
	ErrorStatelessFailed ErrorKind = iota + 1
	ErrorStatefulFailed
	ErrorNoAccount
	ErrorNoSignatories
	ErrorNoAccountDetail
	ErrorNoBlock
	ErrorNotSupported
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorStatelessFailed:
		return "StatelessFailed"
	case ErrorStatefulFailed:
		return "StatefulFailed"
	case ErrorNoAccount:
		return "NoAccount"
	case ErrorNoSignatories:
		return "NoSignatories"
	case ErrorNoAccountDetail:
		return "NoAccountDetail"
	case ErrorNoBlock:
		return "NoBlock"
	case ErrorNotSupported:
		return "NotSupported"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ErrorQueryResponse describes why a point query was not answered.
type ErrorQueryResponse struct {
	Kind    ErrorKind `cramberry:"1"`
	Message string    `cramberry:"2"`
	// Executor-defined numeric reason, stable across releases.
	Code uint32 `cramberry:"3"`
}

// AccountResponse carries account metadata.
type AccountResponse struct {
	AccountID AccountID `cramberry:"1"`
	Domain    string    `cramberry:"2"`
	Quorum    uint32    `cramberry:"3"`
	Roles     []string  `cramberry:"4"`
}

// SignatoriesResponse carries the keys of an account.
type SignatoriesResponse struct {
	Keys []PublicKey `cramberry:"1"`
}

// AccountDetail is one key-value detail entry.
type AccountDetail struct {
	Key   string `cramberry:"1"`
	Value string `cramberry:"2"`
}

// AccountDetailResponse carries account details sorted by key.
type AccountDetailResponse struct {
	Details []AccountDetail `cramberry:"1"`
}

// BlockResponse carries a single committed block.
type BlockResponse struct {
	Block Block `cramberry:"1"`
}

// QueryResponse answers one point query. QueryHash echoes the hash of
// the query it answers and exactly one of the variant fields is set.
type QueryResponse struct {
	QueryHash     Hash                   `cramberry:"1"`
	Account       *AccountResponse       `cramberry:"2"`
	Signatories   *SignatoriesResponse   `cramberry:"3"`
	AccountDetail *AccountDetailResponse `cramberry:"4"`
	Block         *BlockResponse         `cramberry:"5"`
	Error         *ErrorQueryResponse    `cramberry:"6"`
}

// IsError reports whether the response carries the error variant.
func (r *QueryResponse) IsError() bool { return r != nil && r.Error != nil }

// ErrorIs reports whether the response is an error of the given kind.
func (r *QueryResponse) ErrorIs(kind ErrorKind) bool {
	return r.IsError() && r.Error.Kind == kind
}
