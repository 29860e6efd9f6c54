package state

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/blockberries/ledgerq/types"
)

// Genesis is the initial world state of a node.
type Genesis struct {
	Roles    map[string][]Permission `json:"roles"`
	Accounts []GenesisAccount        `json:"accounts"`
}

// GenesisAccount describes one account created at genesis. Signatories
// are hex-encoded ed25519 public keys.
type GenesisAccount struct {
	ID          types.AccountID   `json:"id"`
	Quorum      uint32            `json:"quorum"`
	Roles       []string          `json:"roles"`
	Signatories []string          `json:"signatories"`
	Details     map[string]string `json:"details,omitempty"`
}

// LoadGenesis reads a JSON genesis document from path.
func LoadGenesis(path string) (Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return Genesis{}, fmt.Errorf("parse genesis %s: %w", path, err)
	}
	return g, nil
}

// FromGenesis builds a world state populated from g.
func FromGenesis(g Genesis) (*WorldState, error) {
	ws := New()
	for name, perms := range g.Roles {
		if err := ws.CreateRole(name, perms...); err != nil {
			return nil, err
		}
	}
	for _, ga := range g.Accounts {
		keys := make([]types.PublicKey, 0, len(ga.Signatories))
		for _, s := range ga.Signatories {
			k, err := hex.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("account %s: bad signatory %q: %w", ga.ID, s, err)
			}
			keys = append(keys, k)
		}
		if err := ws.CreateAccount(ga.ID, ga.Quorum, ga.Roles, keys...); err != nil {
			return nil, fmt.Errorf("genesis: %w", err)
		}
		for k, v := range ga.Details {
			if err := ws.SetAccountDetail(ga.ID, k, v); err != nil {
				return nil, fmt.Errorf("genesis: %w", err)
			}
		}
	}
	return ws, nil
}
