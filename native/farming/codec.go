package farming

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Persisted record sizes. The layouts below are a compatibility contract:
// field order and widths are frozen, all integers big-endian.
//
//	Farm:     version u8 | feePaid u8 | owner 20 | stakeToken 12 |
//	          rewardToken 12 | stakeVault 20 | rewardVault 20 | start i64 |
//	          end i64 | lastAccrual i64 | remainingReward u64 |
//	          accRewardPerShare u128
//	Position: farm 32 | owner 20 | staked u64 | rewardDebt i128
const (
	FarmRecordSize     = 134
	PositionRecordSize = 76
)

var twoPow127 = new(big.Int).Lsh(big.NewInt(1), 127)
var twoPow128 = new(big.Int).Lsh(big.NewInt(1), 128)

func putSymbol(dst []byte, symbol string) error {
	if len(symbol) > len(dst) {
		return fmt.Errorf("%w: token symbol %s exceeds %d bytes", ErrArithmetic, symbol, len(dst))
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, symbol)
	return nil
}

func getSymbol(src []byte) string {
	end := len(src)
	for end > 0 && src[end-1] == 0 {
		end--
	}
	return string(src[:end])
}

func putUint64(dst []byte, label string, v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	u, overflow := uint256.FromBig(v)
	if v.Sign() < 0 || overflow || !u.IsUint64() {
		return fmt.Errorf("%w: %s does not fit 64 bits", ErrArithmetic, label)
	}
	binary.BigEndian.PutUint64(dst, u.Uint64())
	return nil
}

func putUint128(dst []byte, label string, v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	u, overflow := uint256.FromBig(v)
	if v.Sign() < 0 || overflow || u.BitLen() > 128 {
		return fmt.Errorf("%w: %s does not fit 128 bits", ErrArithmetic, label)
	}
	full := u.Bytes32()
	copy(dst, full[16:])
	return nil
}

func getUint128(src []byte) *big.Int {
	return new(big.Int).SetBytes(src)
}

// putInt128 stores a signed value as 128-bit two's complement.
func putInt128(dst []byte, label string, v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	if v.Cmp(twoPow127) >= 0 || v.Cmp(new(big.Int).Neg(twoPow127)) < 0 {
		return fmt.Errorf("%w: %s does not fit signed 128 bits", ErrArithmetic, label)
	}
	enc := new(big.Int).Set(v)
	if enc.Sign() < 0 {
		enc.Add(enc, twoPow128)
	}
	raw := enc.Bytes()
	for i := range dst {
		dst[i] = 0
	}
	copy(dst[len(dst)-len(raw):], raw)
	return nil
}

func getInt128(src []byte) *big.Int {
	v := new(big.Int).SetBytes(src)
	if len(src) == 16 && src[0]&0x80 != 0 {
		v.Sub(v, twoPow128)
	}
	return v
}

// EncodeFarm serialises the farm into its fixed-width record. Values outside
// their persisted widths fail with ErrArithmetic.
func EncodeFarm(f *Farm) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("farming: nil farm")
	}
	buf := make([]byte, FarmRecordSize)
	buf[0] = f.SchemaVersion
	if f.FeePaid {
		buf[1] = 1
	}
	copy(buf[2:22], f.Owner[:])
	if err := putSymbol(buf[22:34], f.StakeToken); err != nil {
		return nil, err
	}
	if err := putSymbol(buf[34:46], f.RewardToken); err != nil {
		return nil, err
	}
	copy(buf[46:66], f.StakeVault[:])
	copy(buf[66:86], f.RewardVault[:])
	binary.BigEndian.PutUint64(buf[86:94], uint64(f.StartTime))
	binary.BigEndian.PutUint64(buf[94:102], uint64(f.EndTime))
	binary.BigEndian.PutUint64(buf[102:110], uint64(f.LastAccrual))
	if err := putUint64(buf[110:118], "remaining reward", f.RemainingReward); err != nil {
		return nil, err
	}
	if err := putUint128(buf[118:134], "reward accumulator", f.AccRewardPerShare); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeFarm reconstructs a farm from its fixed-width record. The identifier
// is not part of the record; callers supply it from the storage key.
func DecodeFarm(id [32]byte, data []byte) (*Farm, error) {
	if len(data) != FarmRecordSize {
		return nil, fmt.Errorf("%w: farm record is %d bytes, want %d", ErrArithmetic, len(data), FarmRecordSize)
	}
	f := &Farm{
		ID:            id,
		SchemaVersion: data[0],
		FeePaid:       data[1] != 0,
		StakeToken:    getSymbol(data[22:34]),
		RewardToken:   getSymbol(data[34:46]),
		StartTime:     int64(binary.BigEndian.Uint64(data[86:94])),
		EndTime:       int64(binary.BigEndian.Uint64(data[94:102])),
		LastAccrual:   int64(binary.BigEndian.Uint64(data[102:110])),
	}
	copy(f.Owner[:], data[2:22])
	copy(f.StakeVault[:], data[46:66])
	copy(f.RewardVault[:], data[66:86])
	f.RemainingReward = new(big.Int).SetUint64(binary.BigEndian.Uint64(data[110:118]))
	f.AccRewardPerShare = getUint128(data[118:134])
	return f, nil
}

// EncodePosition serialises the position into its fixed-width record.
func EncodePosition(p *Position) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("farming: nil position")
	}
	buf := make([]byte, PositionRecordSize)
	copy(buf[0:32], p.Farm[:])
	copy(buf[32:52], p.Owner[:])
	if err := putUint64(buf[52:60], "staked amount", p.Staked); err != nil {
		return nil, err
	}
	if err := putInt128(buf[60:76], "reward debt", p.RewardDebt); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodePosition reconstructs a position from its fixed-width record.
func DecodePosition(data []byte) (*Position, error) {
	if len(data) != PositionRecordSize {
		return nil, fmt.Errorf("%w: position record is %d bytes, want %d", ErrArithmetic, len(data), PositionRecordSize)
	}
	p := &Position{}
	copy(p.Farm[:], data[0:32])
	copy(p.Owner[:], data[32:52])
	p.Staked = new(big.Int).SetUint64(binary.BigEndian.Uint64(data[52:60]))
	p.RewardDebt = getInt128(data[60:76])
	return p, nil
}
