package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CryptoExplor/nexus-counter-app/client"
	"github.com/CryptoExplor/nexus-counter-app/core"
	"github.com/CryptoExplor/nexus-counter-app/core/counter"
	"github.com/CryptoExplor/nexus-counter-app/crypto"
	"github.com/CryptoExplor/nexus-counter-app/rpc"
)

const defaultRPCURL = "http://localhost:8545"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "generate-key":
		handleGenerateKey(args)
	case "status":
		handleStatus()
	case "leaderboard":
		handleLeaderboard()
	case "stats":
		handleStats(args)
	case "history":
		handleHistory()
	case "increment":
		handleAction(rpc.OpIncrement)
	case "decrement":
		handleAction(rpc.OpDecrement)
	case "watch":
		handleWatch()
	case "admin":
		handleAdmin(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: counter-cli <command> [arguments]

Commands:
  generate-key [path]             Generate a new key and save it as a keystore file
  status                          Show the shared counter, fee and your stats
  leaderboard                     Show the top-20 leaderboard
  stats <address>                 Show the stats of an address
  history                         Show your recent transactions
  increment                       Pay the fee and increment the counter
  decrement                       Pay the fee and decrement the counter
  watch                           Stream ledger events until interrupted
  admin reset <value>             Reset the counter (owner only)
  admin set-fee <wei>             Update the action fee (owner only)
  admin set-thresholds <t1,..t7>  Update the badge thresholds (owner only)

Environment:
  COUNTER_RPC            RPC endpoint (default ` + defaultRPCURL + `)
  COUNTER_KEY            Keystore path (default ./counter-key.keystore)
  COUNTER_KEYSTORE_PASS  Keystore passphrase (default empty)
  COUNTER_ADMIN_TOKEN    Bearer token for admin commands
  COUNTER_HISTORY        Local history database (default ./counter-history.db)`)
}

func rpcURL() string {
	if url := os.Getenv("COUNTER_RPC"); url != "" {
		return url
	}
	return defaultRPCURL
}

func keystorePath() string {
	if path := os.Getenv("COUNTER_KEY"); path != "" {
		return path
	}
	return "./counter-key.keystore"
}

func historyPath() string {
	if path := os.Getenv("COUNTER_HISTORY"); path != "" {
		return path
	}
	return "./counter-history.db"
}

func loadKey() *crypto.PrivateKey {
	key, err := crypto.LoadFromKeystore(keystorePath(), os.Getenv("COUNTER_KEYSTORE_PASS"))
	if err != nil {
		fmt.Printf("Error: could not load key from %s: %v\n", keystorePath(), err)
		fmt.Println("Run 'counter-cli generate-key' first, or set COUNTER_KEY.")
		os.Exit(1)
	}
	return key
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func handleGenerateKey(args []string) {
	path := keystorePath()
	if len(args) > 0 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Error: %s already exists, refusing to overwrite\n", path)
		os.Exit(1)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	if err := crypto.SaveToKeystore(path, key, os.Getenv("COUNTER_KEYSTORE_PASS")); err != nil {
		fmt.Printf("Error saving keystore: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("New key saved to %s\n", path)
	fmt.Printf("Address: %s\n", key.PubKey().Address().Hex())
}

func handleStatus() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rpcClient := client.NewRPCClient(rpcURL())
	count, err := rpcClient.Count(ctx)
	if err != nil {
		fmt.Printf("Error reading counter: %v\n", err)
		os.Exit(1)
	}
	params, err := rpcClient.Params(ctx)
	if err != nil {
		fmt.Printf("Error reading params: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Counter:  %d\n", count)
	fmt.Printf("Fee:      %s wei\n", params.FeeWei)
	fmt.Printf("Cooldown: %ds\n", params.CooldownSeconds)

	if _, err := os.Stat(keystorePath()); err == nil {
		key := loadKey()
		addr := key.PubKey().Address()
		stats, err := rpcClient.UserStats(ctx, addr)
		if err != nil {
			fmt.Printf("Error reading stats for %s: %v\n", addr.Hex(), err)
			os.Exit(1)
		}
		fmt.Printf("\nAddress:    %s\n", addr.Hex())
		fmt.Printf("Increments: %d\n", stats.Increments)
		fmt.Printf("Decrements: %d\n", stats.Decrements)
		fmt.Printf("Badge:      %s\n", stats.TierName)
		if stats.CooldownSeconds > 0 {
			fmt.Printf("Cooldown:   %ds remaining\n", stats.CooldownSeconds)
		}
	}
}

func handleLeaderboard() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	board, err := client.NewRPCClient(rpcURL()).Leaderboard(ctx)
	if err != nil {
		fmt.Printf("Error reading leaderboard: %v\n", err)
		os.Exit(1)
	}
	if len(board) == 0 {
		fmt.Println("Leaderboard is empty.")
		return
	}
	for i, entry := range board {
		fmt.Printf("%2d. %s  %d\n", i+1, entry.Address, entry.Count)
	}
}

func handleStats(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: counter-cli stats <address>")
		os.Exit(1)
	}
	addr, err := parseAddress(args[0])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stats, err := client.NewRPCClient(rpcURL()).UserStats(ctx, addr)
	if err != nil {
		fmt.Printf("Error reading stats: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Address:    %s\n", stats.Address)
	fmt.Printf("Increments: %d\n", stats.Increments)
	fmt.Printf("Decrements: %d\n", stats.Decrements)
	fmt.Printf("Badge:      %s\n", stats.TierName)
}

func handleHistory() {
	key := loadKey()
	history, err := client.OpenHistory(historyPath(), quietLogger())
	if err != nil {
		fmt.Printf("Error opening history: %v\n", err)
		os.Exit(1)
	}
	defer history.Close()

	records := history.List(key.PubKey().Address())
	if len(records) == 0 {
		fmt.Println("No local transactions recorded.")
		return
	}
	for _, record := range records {
		fmt.Printf("%s  %-10s %s\n", record.Timestamp.Format(time.RFC3339), record.Type, record.Hash)
	}
}

func handleAction(op string) {
	key := loadKey()
	logger := quietLogger()

	history, err := client.OpenHistory(historyPath(), logger)
	if err != nil {
		fmt.Printf("Error opening history: %v\n", err)
		os.Exit(1)
	}
	defer history.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	rpcClient := client.NewRPCClient(rpcURL())
	chainID, err := expectedChainID(ctx, rpcClient)
	if err != nil {
		fmt.Printf("Error resolving chain id: %v\n", err)
		os.Exit(1)
	}
	mirror := client.NewMirror(client.MirrorConfig{
		Backend:   rpcClient,
		Signer:    client.NewKeySigner(key),
		History:   history,
		EventsURL: rpcClient.EventsURL(),
		ChainID:   chainID,
		Logger:    logger,
	})

	if err := mirror.Connect(ctx); err != nil {
		fmt.Printf("Error connecting to %s: %v\n", rpcURL(), err)
		os.Exit(1)
	}
	defer mirror.Disconnect()

	var outcome *client.Outcome
	if op == rpc.OpIncrement {
		outcome, err = mirror.Increment(ctx)
	} else {
		outcome, err = mirror.Decrement(ctx)
	}
	if err != nil {
		fmt.Printf("Error submitting %s: %v\n", op, err)
		os.Exit(1)
	}

	switch outcome.State {
	case client.PipelineConfirmed:
		fmt.Printf("Confirmed: %s\n", outcome.Receipt.TxHash)
		fmt.Printf("Counter is now %d\n", outcome.Receipt.NewCount)
		if outcome.Receipt.Minted {
			fmt.Printf("Badge unlocked: %s\n", outcome.Receipt.TierName)
		}
	default:
		fmt.Printf("%s failed (%s): %s\n", op, outcome.Class, outcome.Message)
		os.Exit(1)
	}
}

func handleWatch() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpcClient := client.NewRPCClient(rpcURL())
	subscriber := client.NewEventSubscriber(rpcClient.EventsURL(), func(evt core.StreamEvent) {
		fmt.Printf("[%d] %s %s\n", evt.Sequence, evt.Type, string(evt.Data))
	}, quietLogger())

	fmt.Printf("Watching events on %s (ctrl-c to stop)\n", rpcURL())
	subscriber.Run(ctx)
}

func handleAdmin(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: counter-cli admin <reset|set-fee|set-thresholds> <arguments>")
		os.Exit(1)
	}

	token := os.Getenv("COUNTER_ADMIN_TOKEN")
	if token == "" {
		fmt.Println("Error: COUNTER_ADMIN_TOKEN is not set")
		os.Exit(1)
	}

	var (
		op     string
		method string
		data   interface{}
	)
	switch args[0] {
	case "reset":
		if len(args) < 2 {
			fmt.Println("Usage: counter-cli admin reset <value>")
			os.Exit(1)
		}
		value, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Printf("Error: invalid counter value %q\n", args[1])
			os.Exit(1)
		}
		op = rpc.OpReset
		method = "counter_resetCounter"
		data = struct {
			NewValue uint64 `json:"newValue"`
		}{NewValue: value}
	case "set-fee":
		if len(args) < 2 {
			fmt.Println("Usage: counter-cli admin set-fee <wei>")
			os.Exit(1)
		}
		if _, ok := new(big.Int).SetString(args[1], 10); !ok {
			fmt.Printf("Error: invalid fee %q\n", args[1])
			os.Exit(1)
		}
		op = rpc.OpSetFee
		method = "counter_setFee"
		data = struct {
			FeeWei string `json:"feeWei"`
		}{FeeWei: args[1]}
	case "set-thresholds":
		if len(args) < 2 {
			fmt.Println("Usage: counter-cli admin set-thresholds <t1,t2,t3,t4,t5,t6,t7>")
			os.Exit(1)
		}
		thresholds, err := parseThresholds(args[1])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		op = rpc.OpSetThresholds
		method = "counter_setBadgeThresholds"
		data = struct {
			Thresholds [counter.TierCount]uint64 `json:"thresholds"`
		}{Thresholds: thresholds}
	default:
		fmt.Printf("Unknown admin command: %s\n", args[0])
		os.Exit(1)
	}

	key := loadKey()
	rpcClient := client.NewRPCClient(rpcURL())
	rpcClient.SetAdminToken(token)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	descriptor, err := rpcClient.Descriptor(ctx)
	if err != nil {
		fmt.Printf("Error reading program descriptor: %v\n", err)
		os.Exit(1)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		fmt.Printf("Error encoding arguments: %v\n", err)
		os.Exit(1)
	}
	envelope := &rpc.TxEnvelope{
		From:  key.PubKey().Address().Hex(),
		Op:    op,
		Nonce: uint64(time.Now().UnixNano()),
		Data:  payload,
	}
	signer := client.NewKeySigner(key)
	if err := signer.SignEnvelope(ctx, envelope, descriptor.ChainID); err != nil {
		fmt.Printf("Error signing envelope: %v\n", err)
		os.Exit(1)
	}

	result, err := rpcClient.Submit(ctx, method, envelope)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Confirmed: %s\n", result.TxHash)
	fmt.Printf("Counter is now %d\n", result.NewCount)
}

// expectedChainID resolves the chain the session should bind to. COUNTER_CHAIN
// pins it; otherwise the node's descriptor is trusted on first connect.
func expectedChainID(ctx context.Context, rpcClient *client.RPCClient) (uint64, error) {
	if raw := os.Getenv("COUNTER_CHAIN"); raw != "" {
		return strconv.ParseUint(raw, 10, 64)
	}
	descriptor, err := rpcClient.Descriptor(ctx)
	if err != nil {
		return 0, err
	}
	return descriptor.ChainID, nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseThresholds(raw string) ([counter.TierCount]uint64, error) {
	var thresholds [counter.TierCount]uint64
	parts := strings.Split(raw, ",")
	if len(parts) != counter.TierCount {
		return thresholds, fmt.Errorf("expected %d comma-separated thresholds, got %d", counter.TierCount, len(parts))
	}
	for i, part := range parts {
		value, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return thresholds, fmt.Errorf("invalid threshold %q", part)
		}
		thresholds[i] = value
	}
	return thresholds, nil
}
