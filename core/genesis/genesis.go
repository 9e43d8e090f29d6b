package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"farmnet/core/state"
	"farmnet/crypto"
)

// Spec is the genesis document applied to an empty ledger on first boot. It
// seeds the token registry, opening balances, and role assignments; farms are
// always created through the engine, never at genesis.
type Spec struct {
	GenesisTime string                       `json:"genesisTime,omitempty"`
	Tokens      []TokenSpec                  `json:"tokens"`
	Alloc       map[string]map[string]string `json:"alloc,omitempty"` // addr -> token -> amount
	Roles       map[string][]string          `json:"roles,omitempty"` // role -> []addr
}

// TokenSpec registers one token at genesis.
type TokenSpec struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

// Load reads and validates a genesis spec from disk. Unknown fields are
// rejected so a typo in a deployment document fails loudly instead of
// silently skipping an allocation.
func Load(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis: spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read spec %q: %w", path, err)
	}
	spec := new(Spec)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(spec); err != nil {
		return nil, fmt.Errorf("genesis: parse spec %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks the document for duplicate tokens, malformed addresses and
// unparseable amounts before anything touches state.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("genesis: nil spec")
	}
	if len(s.Tokens) == 0 {
		return fmt.Errorf("genesis: at least one token must be registered")
	}
	seen := make(map[string]bool, len(s.Tokens))
	for i, token := range s.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if symbol == "" {
			return fmt.Errorf("genesis: token %d: symbol must not be empty", i)
		}
		if seen[symbol] {
			return fmt.Errorf("genesis: token %s listed twice", symbol)
		}
		seen[symbol] = true
		if strings.TrimSpace(token.Name) == "" {
			return fmt.Errorf("genesis: token %s: name must not be empty", symbol)
		}
	}
	for addr, balances := range s.Alloc {
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return fmt.Errorf("genesis: alloc address %q: %w", addr, err)
		}
		for symbol, amount := range balances {
			normalized := strings.ToUpper(strings.TrimSpace(symbol))
			if !seen[normalized] {
				return fmt.Errorf("genesis: alloc for %s references unregistered token %s", addr, symbol)
			}
			if _, err := parseAmount(amount); err != nil {
				return fmt.Errorf("genesis: alloc %s/%s: %w", addr, symbol, err)
			}
		}
	}
	for role, members := range s.Roles {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("genesis: role name must not be empty")
		}
		for _, member := range members {
			if _, err := crypto.DecodeAddress(member); err != nil {
				return fmt.Errorf("genesis: role %s member %q: %w", role, member, err)
			}
		}
	}
	return nil
}

// Apply writes the genesis document into the provided state manager. The
// iteration order is made deterministic by sorting every map so identical
// documents always produce identical state roots.
func (s *Spec) Apply(manager *state.Manager) error {
	if err := s.Validate(); err != nil {
		return err
	}

	tokens := append([]TokenSpec(nil), s.Tokens...)
	sort.Slice(tokens, func(i, j int) bool {
		return strings.ToUpper(tokens[i].Symbol) < strings.ToUpper(tokens[j].Symbol)
	})
	for _, token := range tokens {
		if err := manager.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
			return fmt.Errorf("genesis: register token %s: %w", token.Symbol, err)
		}
	}

	addrs := make([]string, 0, len(s.Alloc))
	for addr := range s.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		decoded, err := crypto.DecodeAddress(addr)
		if err != nil {
			return err
		}
		symbols := make([]string, 0, len(s.Alloc[addr]))
		for symbol := range s.Alloc[addr] {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			amount, err := parseAmount(s.Alloc[addr][symbol])
			if err != nil {
				return err
			}
			if err := manager.SetBalance(decoded.Bytes(), symbol, amount); err != nil {
				return fmt.Errorf("genesis: seed balance %s/%s: %w", addr, symbol, err)
			}
		}
	}

	roles := make([]string, 0, len(s.Roles))
	for role := range s.Roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		members := append([]string(nil), s.Roles[role]...)
		sort.Strings(members)
		for _, member := range members {
			decoded, err := crypto.DecodeAddress(member)
			if err != nil {
				return err
			}
			if err := manager.SetRole(role, decoded.Bytes()); err != nil {
				return fmt.Errorf("genesis: assign role %s: %w", role, err)
			}
		}
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return amount, nil
}
