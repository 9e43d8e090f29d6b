package state

import (
	"fmt"
	"math"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"farmnet/native/farming"
)

func farmStorageKey(id [32]byte) []byte {
	buf := make([]byte, len(farmRecordPrefix)+len(id))
	copy(buf, farmRecordPrefix)
	copy(buf[len(farmRecordPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func positionStorageKey(farmID [32]byte, owner [20]byte) []byte {
	buf := make([]byte, len(positionRecordPrefix)+len(farmID)+len(owner))
	copy(buf, positionRecordPrefix)
	copy(buf[len(positionRecordPrefix):], farmID[:])
	copy(buf[len(positionRecordPrefix)+len(farmID):], owner[:])
	return ethcrypto.Keccak256(buf)
}

// farmNonceKey builds the raw per-creator counter key; the KV surface hashes
// it before it reaches the trie.
func farmNonceKey(creator [20]byte) []byte {
	buf := make([]byte, len(farmNoncePrefix)+len(creator))
	copy(buf, farmNoncePrefix)
	copy(buf[len(farmNoncePrefix):], creator[:])
	return buf
}

func vaultAddress(prefix []byte, id [32]byte) [20]byte {
	buf := make([]byte, len(prefix)+len(id))
	copy(buf, prefix)
	copy(buf[len(prefix):], id[:])
	hash := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// FarmPut persists the farm under its content-derived identifier using the
// fixed-width record encoding.
func (m *Manager) FarmPut(f *farming.Farm) error {
	if f == nil {
		return fmt.Errorf("farming: nil farm")
	}
	encoded, err := farming.EncodeFarm(f)
	if err != nil {
		return err
	}
	return m.trie.Update(farmStorageKey(f.ID), encoded)
}

// FarmGet retrieves the farm stored under the provided identifier.
func (m *Manager) FarmGet(id [32]byte) (*farming.Farm, bool) {
	data, err := m.trie.Get(farmStorageKey(id))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	farm, err := farming.DecodeFarm(id, data)
	if err != nil {
		return nil, false
	}
	return farm, true
}

// PositionPut persists the staker position using the fixed-width record
// encoding.
func (m *Manager) PositionPut(p *farming.Position) error {
	if p == nil {
		return fmt.Errorf("farming: nil position")
	}
	encoded, err := farming.EncodePosition(p)
	if err != nil {
		return err
	}
	return m.trie.Update(positionStorageKey(p.Farm, p.Owner), encoded)
}

// PositionGet retrieves the staker's position in the provided farm.
func (m *Manager) PositionGet(farmID [32]byte, owner [20]byte) (*farming.Position, bool) {
	data, err := m.trie.Get(positionStorageKey(farmID, owner))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	pos, err := farming.DecodePosition(data)
	if err != nil {
		return nil, false
	}
	return pos, true
}

// FarmIndexAppend records the farm identifier in the global index. The KV
// list ignores duplicates so the index stays deterministic.
func (m *Manager) FarmIndexAppend(id [32]byte) error {
	return m.KVAppend(farmIndexKey, id[:])
}

// FarmIndex returns every registered farm identifier in insertion order.
func (m *Manager) FarmIndex() ([][32]byte, error) {
	var list [][]byte
	if err := m.KVGetList(farmIndexKey, &list); err != nil {
		return nil, err
	}
	ids := make([][32]byte, 0, len(list))
	for _, raw := range list {
		if len(raw) != 32 {
			return nil, fmt.Errorf("farming: malformed farm index entry of %d bytes", len(raw))
		}
		var id [32]byte
		copy(id[:], raw)
		ids = append(ids, id)
	}
	return ids, nil
}

// NextFarmNonce returns the creator's current farm sequence number and
// advances the stored counter.
func (m *Manager) NextFarmNonce(creator [20]byte) (uint64, error) {
	key := farmNonceKey(creator)
	var current uint64
	if _, err := m.KVGet(key, &current); err != nil {
		return 0, err
	}
	if current == math.MaxUint64 {
		return 0, fmt.Errorf("farming: nonce overflow")
	}
	if err := m.KVPut(key, current+1); err != nil {
		return 0, err
	}
	return current, nil
}

// FarmStakeVaultAddress derives the custodial address holding the farm's
// staked tokens.
func (m *Manager) FarmStakeVaultAddress(id [32]byte) ([20]byte, error) {
	return vaultAddress(farmStakeVaultPrefix, id), nil
}

// FarmRewardVaultAddress derives the custodial address holding the farm's
// reward tokens.
func (m *Manager) FarmRewardVaultAddress(id [32]byte) ([20]byte, error) {
	return vaultAddress(farmRewardVaultPrefix, id), nil
}
