package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"farmnet/crypto"
	"farmnet/native/farming"
	"farmnet/observability"
)

// FarmResult is the JSON view of a farm returned by the query methods.
type FarmResult struct {
	ID                string `json:"id"`
	Owner             string `json:"owner"`
	StakeToken        string `json:"stakeToken"`
	RewardToken       string `json:"rewardToken"`
	StakeVault        string `json:"stakeVault"`
	RewardVault       string `json:"rewardVault"`
	StartTime         int64  `json:"startTime"`
	EndTime           int64  `json:"endTime"`
	LastAccrual       int64  `json:"lastAccrual"`
	RemainingReward   string `json:"remainingReward"`
	AccRewardPerShare string `json:"accRewardPerShare"`
	FeePaid           bool   `json:"feePaid"`
	SchemaVersion     uint8  `json:"schemaVersion"`
	Status            string `json:"status"`
}

// PositionResult is the JSON view of a staker position.
type PositionResult struct {
	Farm       string `json:"farm"`
	Owner      string `json:"owner"`
	Staked     string `json:"staked"`
	RewardDebt string `json:"rewardDebt"`
}

func farmResult(f *farming.Farm, now int64) FarmResult {
	return FarmResult{
		ID:                hex.EncodeToString(f.ID[:]),
		Owner:             crypto.AddressFromBytes(f.Owner).String(),
		StakeToken:        f.StakeToken,
		RewardToken:       f.RewardToken,
		StakeVault:        crypto.AddressFromBytes(f.StakeVault).String(),
		RewardVault:       crypto.AddressFromBytes(f.RewardVault).String(),
		StartTime:         f.StartTime,
		EndTime:           f.EndTime,
		LastAccrual:       f.LastAccrual,
		RemainingReward:   f.RemainingReward.String(),
		AccRewardPerShare: f.AccRewardPerShare.String(),
		FeePaid:           f.FeePaid,
		SchemaVersion:     f.SchemaVersion,
		Status:            f.StatusAt(now).String(),
	}
}

func positionResult(p *farming.Position) PositionResult {
	return PositionResult{
		Farm:       hex.EncodeToString(p.Farm[:]),
		Owner:      crypto.AddressFromBytes(p.Owner).String(),
		Staked:     p.Staked.String(),
		RewardDebt: p.RewardDebt.String(),
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected a single parameter object")
	}
	dec := json.NewDecoder(strings.NewReader(string(req.Params[0])))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid parameter object: %w", err)
	}
	return nil
}

func parseFarmID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("farm id must be hex: %w", err)
	}
	if len(decoded) != 32 {
		return id, fmt.Errorf("farm id must be 32 bytes, got %d", len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

func parseAddr(raw string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Bytes20(), nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a decimal string, got %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func (s *Server) handleFarmCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Creator     string `json:"creator"`
		StakeToken  string `json:"stakeToken"`
		RewardToken string `json:"rewardToken"`
		StartTime   int64  `json:"startTime"`
		EndTime     int64  `json:"endTime"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	creator, err := parseAddr(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator address", err.Error())
		return
	}
	farm, err := s.node.FarmCreate(creator, params.StakeToken, params.RewardToken, params.StartTime, params.EndTime)
	observability.Ledger().RecordOperation("create", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, farmResult(farm, s.node.Now()))
}

func (s *Server) handleFarmAddRewards(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Farm   string `json:"farm"`
		Funder string `json:"funder"`
		Amount string `json:"amount"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	farmID, err := parseFarmID(params.Farm)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	funder, err := parseAddr(params.Funder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid funder address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	err = s.node.FarmAddRewards(farmID, funder, amount)
	observability.Ledger().RecordOperation("addRewards", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type stakeParams struct {
	Farm   string `json:"farm"`
	Staker string `json:"staker"`
	Amount string `json:"amount"`
}

func (s *Server) decodeStakeParams(w http.ResponseWriter, req *RPCRequest) ([32]byte, [20]byte, *big.Int, bool) {
	var params stakeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return [32]byte{}, [20]byte{}, nil, false
	}
	farmID, err := parseFarmID(params.Farm)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return [32]byte{}, [20]byte{}, nil, false
	}
	staker, err := parseAddr(params.Staker)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid staker address", err.Error())
		return [32]byte{}, [20]byte{}, nil, false
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return [32]byte{}, [20]byte{}, nil, false
	}
	return farmID, staker, amount, true
}

func (s *Server) handleFarmDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	farmID, staker, amount, ok := s.decodeStakeParams(w, req)
	if !ok {
		return
	}
	err := s.node.FarmDeposit(farmID, staker, amount)
	observability.Ledger().RecordOperation("deposit", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleFarmWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	farmID, staker, amount, ok := s.decodeStakeParams(w, req)
	if !ok {
		return
	}
	err := s.node.FarmWithdraw(farmID, staker, amount)
	observability.Ledger().RecordOperation("withdraw", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleFarmPayFee(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Farm   string `json:"farm"`
		Payer  string `json:"payer"`
		Amount string `json:"amount"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	farmID, err := parseFarmID(params.Farm)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	payer, err := parseAddr(params.Payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payer address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	err = s.node.FarmPayFee(farmID, payer, amount)
	observability.Ledger().RecordOperation("payFee", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleFarmDrain(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Farm   string `json:"farm"`
		Caller string `json:"caller"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	farmID, err := parseFarmID(params.Farm)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddr(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	swept, err := s.node.FarmDrain(farmID, caller)
	observability.Ledger().RecordOperation("drain", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"swept": swept.String()})
}

func (s *Server) handleFarmPendingRewards(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Farm   string `json:"farm"`
		Staker string `json:"staker"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	farmID, err := parseFarmID(params.Farm)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	staker, err := parseAddr(params.Staker)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid staker address", err.Error())
		return
	}
	pending, err := s.node.FarmPendingRewards(farmID, staker)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"pending": pending.String()})
}

func (s *Server) handleFarmGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Farm string `json:"farm"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	farmID, err := parseFarmID(params.Farm)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	farm, err := s.node.FarmGet(farmID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, farmResult(farm, s.node.Now()))
}

func (s *Server) handleFarmList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	farms, err := s.node.FarmList()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	now := s.node.Now()
	results := make([]FarmResult, 0, len(farms))
	for _, farm := range farms {
		results = append(results, farmResult(farm, now))
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleFarmGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Farm   string `json:"farm"`
		Staker string `json:"staker"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	farmID, err := parseFarmID(params.Farm)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	staker, err := parseAddr(params.Staker)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid staker address", err.Error())
		return
	}
	pos, err := s.node.FarmGetPosition(farmID, staker)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, positionResult(pos))
}

func (s *Server) handleFarmRoleMembers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Role string `json:"role"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	role := strings.TrimSpace(params.Role)
	if role == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "role required", nil)
		return
	}
	members, err := s.node.RoleMembers(role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to read role members", err.Error())
		return
	}
	out := make([]string, 0, len(members))
	for _, member := range members {
		if len(member) != 20 {
			continue
		}
		var addr [20]byte
		copy(addr[:], member)
		out = append(out, crypto.AddressFromBytes(addr).String())
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleTokenGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params struct {
		Address string `json:"address"`
		Token   string `json:"token"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseAddr(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	balance, err := s.node.TokenBalance(addr, params.Token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to read balance", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address": params.Address,
		"token":   strings.ToUpper(strings.TrimSpace(params.Token)),
		"balance": balance.String(),
	})
}

func (s *Server) handleTokenList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	tokens, err := s.node.TokenList()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to list tokens", err.Error())
		return
	}
	writeResult(w, req.ID, tokens)
}
