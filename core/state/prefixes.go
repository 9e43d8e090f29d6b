package state

// Raw key material for the farming records. Record keys are hashed with
// keccak256 before touching the trie; the index and nonce keys go through the
// generic KV surface, which hashes them the same way.
var (
	farmRecordPrefix      = []byte("farming/farm/")
	positionRecordPrefix  = []byte("farming/position/")
	farmNoncePrefix       = []byte("farming/nonce/")
	farmStakeVaultPrefix  = []byte("farming/vault/stake/")
	farmRewardVaultPrefix = []byte("farming/vault/reward/")
	farmIndexKey          = []byte("farming/farms")
)
