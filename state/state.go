// Package state holds the in-memory world state that point queries are
// answered from: accounts, their signatories, roles with permissions,
// and key-value account details.
//
// WorldState is safe for concurrent use. Reads take a shared lock and
// return copies, so callers never observe later mutations.
package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blockberries/ledgerq/types"
)

var (
	ErrClosed          = errors.New("world state closed")
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrDetailNotFound  = errors.New("account detail not found")
	ErrRoleNotFound    = errors.New("role not found")
	ErrInvalidAccount  = errors.New("invalid account id")
)

// Permission grants access to one query kind.
type Permission string

const (
	PermGetMyAccount      Permission = "get_my_account"
	PermGetAllAccounts    Permission = "get_all_accounts"
	PermGetMySignatories  Permission = "get_my_signatories"
	PermGetAllSignatories Permission = "get_all_signatories"
	PermGetMyAccDetail    Permission = "get_my_acc_detail"
	PermGetAllAccDetail   Permission = "get_all_acc_detail"
	PermGetBlocks         Permission = "get_blocks"

	// PermRoot grants every permission.
	PermRoot Permission = "root"
)

// Account is a snapshot of one account.
type Account struct {
	ID          types.AccountID
	Quorum      uint32
	Roles       []string
	Signatories []types.PublicKey
	Details     map[string]string
}

// Domain returns the part of the account id after '@'.
func (a Account) Domain() string { return DomainOf(a.ID) }

// DomainOf returns the domain part of an account id.
func DomainOf(id types.AccountID) string {
	_, domain, _ := strings.Cut(string(id), "@")
	return domain
}

func validateAccountID(id types.AccountID) error {
	name, domain, ok := strings.Cut(string(id), "@")
	if !ok || name == "" || domain == "" || strings.Contains(domain, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, id)
	}
	return nil
}

type account struct {
	quorum      uint32
	roles       []string
	signatories []types.PublicKey
	details     map[string]string
}

// WorldState is the committed ledger state visible to queries.
type WorldState struct {
	mu       sync.RWMutex
	accounts map[types.AccountID]*account
	roles    map[string]map[Permission]struct{}
	closed   bool
}

// New returns an empty world state.
func New() *WorldState {
	return &WorldState{
		accounts: make(map[types.AccountID]*account),
		roles:    make(map[string]map[Permission]struct{}),
	}
}

// CreateRole defines or replaces a role.
func (ws *WorldState) CreateRole(name string, perms ...Permission) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	ws.roles[name] = set
	return nil
}

// CreateAccount adds an account holding the given roles and keys.
func (ws *WorldState) CreateAccount(id types.AccountID, quorum uint32, roles []string, keys ...types.PublicKey) error {
	if err := validateAccountID(id); err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}
	if _, ok := ws.accounts[id]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, id)
	}
	for _, r := range roles {
		if _, ok := ws.roles[r]; !ok {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, r)
		}
	}
	acc := &account{
		quorum:  quorum,
		roles:   append([]string(nil), roles...),
		details: make(map[string]string),
	}
	for _, k := range keys {
		acc.signatories = append(acc.signatories, append(types.PublicKey(nil), k...))
	}
	ws.accounts[id] = acc
	return nil
}

// AddSignatory appends key to the account's signatories. Adding a key
// twice is a no-op.
func (ws *WorldState) AddSignatory(id types.AccountID, key types.PublicKey) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	acc, err := ws.lookup(id)
	if err != nil {
		return err
	}
	for _, k := range acc.signatories {
		if string(k) == string(key) {
			return nil
		}
	}
	acc.signatories = append(acc.signatories, append(types.PublicKey(nil), key...))
	return nil
}

// SetAccountDetail sets one key-value detail.
func (ws *WorldState) SetAccountDetail(id types.AccountID, key, value string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	acc, err := ws.lookup(id)
	if err != nil {
		return err
	}
	acc.details[key] = value
	return nil
}

// Account returns a copy of the account.
func (ws *WorldState) Account(id types.AccountID) (Account, error) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	acc, err := ws.lookup(id)
	if err != nil {
		return Account{}, err
	}
	out := Account{
		ID:      id,
		Quorum:  acc.quorum,
		Roles:   append([]string(nil), acc.roles...),
		Details: make(map[string]string, len(acc.details)),
	}
	for _, k := range acc.signatories {
		out.Signatories = append(out.Signatories, append(types.PublicKey(nil), k...))
	}
	for k, v := range acc.details {
		out.Details[k] = v
	}
	return out, nil
}

// Signatories returns the account's keys.
func (ws *WorldState) Signatories(id types.AccountID) ([]types.PublicKey, error) {
	acc, err := ws.Account(id)
	if err != nil {
		return nil, err
	}
	return acc.Signatories, nil
}

// AccountDetails returns the detail with the given key, or every detail
// sorted by key when key is empty.
func (ws *WorldState) AccountDetails(id types.AccountID, key string) ([]types.AccountDetail, error) {
	acc, err := ws.Account(id)
	if err != nil {
		return nil, err
	}
	if key != "" {
		v, ok := acc.Details[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrDetailNotFound, id, key)
		}
		return []types.AccountDetail{{Key: key, Value: v}}, nil
	}
	if len(acc.Details) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDetailNotFound, id)
	}
	out := make([]types.AccountDetail, 0, len(acc.Details))
	for k, v := range acc.Details {
		out = append(out, types.AccountDetail{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// HasPermission reports whether any role of the account grants perm.
// Root grants everything. Unknown accounts have no permissions.
func (ws *WorldState) HasPermission(id types.AccountID, perm Permission) bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	acc, err := ws.lookup(id)
	if err != nil {
		return false
	}
	for _, r := range acc.roles {
		set := ws.roles[r]
		if _, ok := set[perm]; ok {
			return true
		}
		if _, ok := set[PermRoot]; ok {
			return true
		}
	}
	return false
}

// Close detaches the world state. Every later operation fails with
// ErrClosed.
func (ws *WorldState) Close() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.closed = true
}

// Closed reports whether Close was called.
func (ws *WorldState) Closed() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.closed
}

// lookup must be called with mu held.
func (ws *WorldState) lookup(id types.AccountID) (*account, error) {
	if ws.closed {
		return nil, ErrClosed
	}
	acc, ok := ws.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return acc, nil
}
