package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"farmnet/cmd/internal/passphrase"
	"farmnet/crypto"
)

const (
	keystorePassEnv = "FARMNET_KEYSTORE_PASS"
	defaultKeystore = "farm.keystore"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("FARMNET_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		path := defaultKeystore
		if len(args) > 1 {
			path = args[1]
		}
		generateKey(path)
	case "show-address":
		path := defaultKeystore
		if len(args) > 1 {
			path = args[1]
		}
		showAddress(path)
	case "create-farm":
		if len(args) < 6 {
			fmt.Println("Usage: create-farm <creator> <stakeToken> <rewardToken> <startUnix> <endUnix>")
			return
		}
		createFarm(args[1], args[2], args[3], args[4], args[5])
	case "add-rewards":
		if len(args) < 4 {
			fmt.Println("Usage: add-rewards <farmId> <funder> <amount>")
			return
		}
		simpleMutation("farm_addRewards", map[string]string{"farm": args[1], "funder": args[2], "amount": args[3]},
			fmt.Sprintf("Added %s reward units to farm %s.", args[3], args[1]))
	case "deposit":
		if len(args) < 4 {
			fmt.Println("Usage: deposit <farmId> <staker> <amount>")
			return
		}
		simpleMutation("farm_deposit", map[string]string{"farm": args[1], "staker": args[2], "amount": args[3]},
			fmt.Sprintf("Deposited %s into farm %s.", args[3], args[1]))
	case "harvest":
		if len(args) < 3 {
			fmt.Println("Usage: harvest <farmId> <staker>")
			return
		}
		// A zero-amount deposit settles pending reward without moving stake.
		simpleMutation("farm_deposit", map[string]string{"farm": args[1], "staker": args[2], "amount": "0"},
			fmt.Sprintf("Harvested pending rewards from farm %s.", args[1]))
	case "withdraw":
		if len(args) < 4 {
			fmt.Println("Usage: withdraw <farmId> <staker> <amount>")
			return
		}
		simpleMutation("farm_withdraw", map[string]string{"farm": args[1], "staker": args[2], "amount": args[3]},
			fmt.Sprintf("Withdrew %s from farm %s.", args[3], args[1]))
	case "pay-fee":
		if len(args) < 4 {
			fmt.Println("Usage: pay-fee <farmId> <payer> <amount>")
			return
		}
		simpleMutation("farm_payFee", map[string]string{"farm": args[1], "payer": args[2], "amount": args[3]},
			fmt.Sprintf("Paid creation fee for farm %s.", args[1]))
	case "drain":
		if len(args) < 3 {
			fmt.Println("Usage: drain <farmId> <caller>")
			return
		}
		drainFarm(args[1], args[2])
	case "pending":
		if len(args) < 3 {
			fmt.Println("Usage: pending <farmId> <staker>")
			return
		}
		pendingRewards(args[1], args[2])
	case "farm":
		if len(args) < 2 {
			fmt.Println("Usage: farm <farmId>")
			return
		}
		showFarm(args[1])
	case "farms":
		listFarms()
	case "position":
		if len(args) < 3 {
			fmt.Println("Usage: position <farmId> <staker>")
			return
		}
		showPosition(args[1], args[2])
	case "balance":
		if len(args) < 3 {
			fmt.Println("Usage: balance <address> <token>")
			return
		}
		showBalance(args[1], args[2])
	case "tokens":
		listTokens()
	case "role-members":
		if len(args) < 2 {
			fmt.Println("Usage: role-members <role>")
			return
		}
		listRoleMembers(args[1])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8645"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey(path string) {
	pass, err := passphrase.NewSource(keystorePassEnv).Get()
	if err != nil {
		fmt.Printf("Error resolving passphrase: %v\n", err)
		os.Exit(1)
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}
	if err := crypto.SaveToKeystore(path, key, pass); err != nil {
		fmt.Printf("Failed to save keystore to %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("Generated new key and saved encrypted keystore to %s\n", path)
	fmt.Printf("Your account address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file and its passphrase securely.")
}

func showAddress(path string) {
	pass, err := passphrase.NewSource(keystorePassEnv).Get()
	if err != nil {
		fmt.Printf("Error resolving passphrase: %v\n", err)
		os.Exit(1)
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		fmt.Printf("Error opening keystore %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Println(key.PubKey().Address().String())
}

func createFarm(creator, stakeToken, rewardToken, startRaw, endRaw string) {
	start, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil {
		fmt.Println("Error: invalid start time.")
		return
	}
	end, err := strconv.ParseInt(endRaw, 10, 64)
	if err != nil {
		fmt.Println("Error: invalid end time.")
		return
	}

	var farm farmView
	err = rpcCall("farm_create", map[string]interface{}{
		"creator":     creator,
		"stakeToken":  stakeToken,
		"rewardToken": rewardToken,
		"startTime":   start,
		"endTime":     end,
	}, true, &farm)
	if err != nil {
		fmt.Printf("Error creating farm: %v\n", err)
		return
	}
	fmt.Printf("Created farm %s (%s -> %s).\n", farm.ID, farm.StakeToken, farm.RewardToken)
	fmt.Printf("Fee gate open: %t\n", farm.FeePaid)
}

func simpleMutation(method string, params map[string]string, success string) {
	if err := rpcCall(method, params, true, nil); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(success)
}

func drainFarm(farmID, caller string) {
	var result struct {
		Swept string `json:"swept"`
	}
	if err := rpcCall("farm_drain", map[string]string{"farm": farmID, "caller": caller}, true, &result); err != nil {
		fmt.Printf("Error draining farm: %v\n", err)
		return
	}
	fmt.Printf("Swept %s reward units from farm %s.\n", result.Swept, farmID)
}

func pendingRewards(farmID, staker string) {
	var result struct {
		Pending string `json:"pending"`
	}
	if err := rpcCall("farm_pendingRewards", map[string]string{"farm": farmID, "staker": staker}, false, &result); err != nil {
		fmt.Printf("Error fetching pending rewards: %v\n", err)
		return
	}
	fmt.Printf("Pending rewards: %s\n", result.Pending)
}

type farmView struct {
	ID              string `json:"id"`
	Owner           string `json:"owner"`
	StakeToken      string `json:"stakeToken"`
	RewardToken     string `json:"rewardToken"`
	StartTime       int64  `json:"startTime"`
	EndTime         int64  `json:"endTime"`
	RemainingReward string `json:"remainingReward"`
	FeePaid         bool   `json:"feePaid"`
	Status          string `json:"status"`
}

func printFarm(farm farmView) {
	fmt.Printf("Farm %s\n", farm.ID)
	fmt.Printf("  Owner:    %s\n", farm.Owner)
	fmt.Printf("  Stake:    %s\n", farm.StakeToken)
	fmt.Printf("  Reward:   %s\n", farm.RewardToken)
	fmt.Printf("  Window:   %d -> %d\n", farm.StartTime, farm.EndTime)
	fmt.Printf("  Budget:   %s\n", farm.RemainingReward)
	fmt.Printf("  Fee paid: %t\n", farm.FeePaid)
	fmt.Printf("  Status:   %s\n", farm.Status)
}

func showFarm(farmID string) {
	var farm farmView
	if err := rpcCall("farm_get", map[string]string{"farm": farmID}, false, &farm); err != nil {
		fmt.Printf("Error fetching farm: %v\n", err)
		return
	}
	printFarm(farm)
}

func listFarms() {
	var farms []farmView
	if err := rpcCall("farm_list", nil, false, &farms); err != nil {
		fmt.Printf("Error listing farms: %v\n", err)
		return
	}
	if len(farms) == 0 {
		fmt.Println("No farms registered.")
		return
	}
	for _, farm := range farms {
		printFarm(farm)
	}
}

func showPosition(farmID, staker string) {
	var pos struct {
		Staked     string `json:"staked"`
		RewardDebt string `json:"rewardDebt"`
	}
	if err := rpcCall("farm_getPosition", map[string]string{"farm": farmID, "staker": staker}, false, &pos); err != nil {
		fmt.Printf("Error fetching position: %v\n", err)
		return
	}
	fmt.Printf("Position in farm %s\n", farmID)
	fmt.Printf("  Staker:      %s\n", staker)
	fmt.Printf("  Staked:      %s\n", pos.Staked)
	fmt.Printf("  Reward debt: %s\n", pos.RewardDebt)
}

func showBalance(address, token string) {
	var result struct {
		Balance string `json:"balance"`
		Token   string `json:"token"`
	}
	if err := rpcCall("token_getBalance", map[string]string{"address": address, "token": token}, false, &result); err != nil {
		fmt.Printf("Error fetching balance: %v\n", err)
		return
	}
	fmt.Printf("Balance for %s\n", address)
	fmt.Printf("  %s: %s\n", result.Token, result.Balance)
}

func listTokens() {
	var tokens []string
	if err := rpcCall("token_list", nil, false, &tokens); err != nil {
		fmt.Printf("Error listing tokens: %v\n", err)
		return
	}
	for _, token := range tokens {
		fmt.Println(token)
	}
}

func listRoleMembers(role string) {
	var members []string
	if err := rpcCall("farm_roleMembers", map[string]string{"role": role}, false, &members); err != nil {
		fmt.Printf("Error listing role members: %v\n", err)
		return
	}
	if len(members) == 0 {
		fmt.Printf("No addresses hold %s\n", role)
		return
	}
	for _, member := range members {
		fmt.Println(member)
	}
}

// --- RPC HELPER FUNCTIONS ---

func rpcCall(method string, params interface{}, requireAuth bool, result interface{}) error {
	rawParams := []interface{}{}
	if params != nil {
		rawParams = append(rawParams, params)
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": rawParams,
	})

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth && strings.TrimSpace(rpcAuthToken) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode response from node")
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("error from node (%d): %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

func printUsage() {
	fmt.Println(`farmcli - command line client for a farmnet node

Key management:
  generate-key [path]                      Create an encrypted keystore (default farm.keystore)
  show-address [path]                      Print the address held in a keystore

Farm lifecycle:
  create-farm <creator> <stake> <reward> <start> <end>
  add-rewards <farmId> <funder> <amount>
  pay-fee <farmId> <payer> <amount>
  drain <farmId> <caller>

Staking:
  deposit <farmId> <staker> <amount>
  withdraw <farmId> <staker> <amount>
  harvest <farmId> <staker>
  pending <farmId> <staker>
  position <farmId> <staker>

Queries:
  farm <farmId>
  farms
  balance <address> <token>
  tokens
  role-members <role>

Global flags:
  --rpc <url>        Node endpoint (default http://localhost:8645, or RPC_URL)

Environment:
  FARMNET_RPC_TOKEN      Bearer token for mutating calls
  FARMNET_KEYSTORE_PASS  Keystore passphrase (prompted when unset)`)
}
