package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/bidder"
	"github.com/cloudx-io/fheauction/core"
	"github.com/cloudx-io/fheauction/fhe"
)

// plainTextHandler is a simple slog handler that writes plain text to stdout
// without timestamps or log levels - appropriate for CLI output
type plainTextHandler struct{}

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (*plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(os.Stdout, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *plainTextHandler) WithGroup(_ string) slog.Handler {
	return h
}

var logger = slog.New(&plainTextHandler{})

// errUsage marks errors caused by bad flags; they exit with code 1.
var errUsage = errors.New("usage error")

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"keygen", "Generate a secret, public and evaluation key", runKeygen},
	{"encrypt", "Encrypt plaintext bids into an auction request", runEncrypt},
	{"export-wire", "Encrypt bids in the decimal demo wire format", runExportWire},
	{"evaluate", "Run the auction circuit locally with the evaluation key", runEvaluate},
	{"decrypt", "Decrypt an auction response", runDecrypt},
	{"open", "Open a round on a remote evaluator", runOpen},
	{"submit", "Submit an auction request to a remote evaluator", runSubmit},
	{"demo", "Run a complete two-bidder auction in process", runDemo},
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "help" || os.Args[1] == "--help" || os.Args[1] == "-h" {
		showUsage()
		if len(os.Args) < 2 {
			os.Exit(1)
		}
		os.Exit(0)
	}

	for _, cmd := range commands {
		if cmd.name != os.Args[1] {
			continue
		}
		err := cmd.run(os.Args[2:])
		switch {
		case err == nil, errors.Is(err, flag.ErrHelp):
			os.Exit(0)
		case errors.Is(err, errUsage):
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	}

	showUsage()
	fmt.Fprintf(os.Stderr, "\nError: unknown command %q\n", os.Args[1])
	os.Exit(1)
}

func showUsage() {
	logger.Info("Encrypted Auction CLI")
	logger.Info("")
	logger.Info("Encrypts sealed bids bit by bit, evaluates the auction over ciphertexts")
	logger.Info("and decrypts the winner. The evaluator never needs the secret key.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  auction-cli <command> [flags]")
	logger.Info("")
	logger.Info("Commands:")
	for _, cmd := range commands {
		logger.Info(fmt.Sprintf("  %-12s %s", cmd.name, cmd.summary))
	}
	logger.Info("")
	logger.Info("Run 'auction-cli <command> --help' for the flags of a command.")
	logger.Info("")
	logger.Info("Examples:")
	logger.Info("  auction-cli keygen --keys ./keys")
	logger.Info("  auction-cli encrypt --keys ./keys --width 32 --bids 1,2 --out request.json")
	logger.Info("  auction-cli evaluate --keys ./keys --request request.json --out response.json")
	logger.Info("  auction-cli decrypt --keys ./keys --response response.json")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Success")
	logger.Info("  1 - Invalid usage")
	logger.Info("  2 - Runtime error")
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	keysDir := fs.String("keys", "keys", "Keystore directory")
	paramSet := fs.String("params", fhe.DemoSmall.Name, "Parameter set: demo-small or secure")
	if err := fs.Parse(args); err != nil {
		return err
	}

	set, err := fhe.ParameterSetByName(*paramSet)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	params, err := fhe.NewParameters(set)
	if err != nil {
		return err
	}
	ks, err := bidder.NewKeystore(*keysDir)
	if err != nil {
		return err
	}

	start := time.Now()
	sk, pk, ek := fhe.NewKeyGenerator(params).GenKeys()
	if err := ks.Save(sk, pk, ek); err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("Generated %s keys in %s (%s)", set.Name, ks.Dir(), time.Since(start).Round(time.Millisecond)))
	return nil
}

// bidFlags are shared by the commands that encrypt bids.
type bidFlags struct {
	keysDir   *string
	width     *int
	bids      *string
	ids       *string
	precision *int
}

func addBidFlags(fs *flag.FlagSet) bidFlags {
	return bidFlags{
		keysDir:   fs.String("keys", "keys", "Keystore directory"),
		width:     fs.Int("width", 32, "Bid bit width"),
		bids:      fs.String("bids", "", "Comma-separated bids (required)"),
		ids:       fs.String("ids", "", "Comma-separated bidder IDs (optional)"),
		precision: fs.Int("precision", 0, "Decimal places of the bids; bids are scaled to integer units"),
	}
}

func (f bidFlags) parse() ([]bidder.Bid, error) {
	if *f.bids == "" {
		return nil, fmt.Errorf("%w: --bids is required", errUsage)
	}
	prices := strings.Split(*f.bids, ",")
	var ids []string
	if *f.ids != "" {
		ids = strings.Split(*f.ids, ",")
		if len(ids) != len(prices) {
			return nil, fmt.Errorf("%w: %d bidder IDs for %d bids", errUsage, len(ids), len(prices))
		}
	}

	bids := make([]bidder.Bid, len(prices))
	for k, price := range prices {
		units, err := core.PriceToUnits(strings.TrimSpace(price), int32(*f.precision), *f.width)
		if err != nil {
			return nil, fmt.Errorf("bid %d: %w", k, err)
		}
		bids[k] = bidder.Bid{Value: units}
		if ids != nil {
			bids[k].BidderID = strings.TrimSpace(ids[k])
		}
	}
	return bids, nil
}

func runEncrypt(args []string) error {
	fs := flag.NewFlagSet("encrypt", flag.ContinueOnError)
	bf := addBidFlags(fs)
	roundID := fs.String("round", "", "Round ID returned by 'open' (optional for local evaluation)")
	demoWire := fs.Bool("demo-wire", false, "Encode ciphertexts as decimal demo wire")
	out := fs.String("out", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bids, err := bf.parse()
	if err != nil {
		return err
	}
	ks, err := bidder.NewKeystore(*bf.keysDir)
	if err != nil {
		return err
	}
	enc, params, err := ks.Encryptor()
	if err != nil {
		return err
	}

	req, err := bidder.BuildRequest(enc, params, *roundID, *bf.width, bids, bidder.RequestOptions{DemoWire: *demoWire})
	if err != nil {
		return err
	}
	return writeJSON(*out, req)
}

func runExportWire(args []string) error {
	fs := flag.NewFlagSet("export-wire", flag.ContinueOnError)
	bf := addBidFlags(fs)
	out := fs.String("out", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bids, err := bf.parse()
	if err != nil {
		return err
	}
	ks, err := bidder.NewKeystore(*bf.keysDir)
	if err != nil {
		return err
	}
	enc, params, err := ks.Encryptor()
	if err != nil {
		return err
	}

	wire := make([]auctionapi.DemoWireBid, len(bids))
	for k, bid := range bids {
		if wire[k], err = bidder.EncryptDemoWireBid(enc, params, bid, *bf.width); err != nil {
			return fmt.Errorf("bid %d: %w", k, err)
		}
	}
	return writeJSON(*out, wire)
}

func runEvaluate(args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	keysDir := fs.String("keys", "keys", "Keystore directory (only the evaluation key is read)")
	requestInput := fs.String("request", "", "Auction request JSON (file path or inline JSON, required)")
	reserve := fs.Uint64("reserve", 0, "Reserve price in bid units")
	strategy := fs.String("strategy", "tree", "Tournament strategy: tree or sequential")
	workers := fs.Int("workers", 0, "Concurrent duels (default: NumCPU)")
	out := fs.String("out", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *requestInput == "" {
		return fmt.Errorf("%w: --request is required", errUsage)
	}

	strat, err := core.ParseStrategy(*strategy)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	var req auctionapi.AuctionRequest
	if err := readJSONInput(*requestInput, &req); err != nil {
		return err
	}
	ks, err := bidder.NewKeystore(*keysDir)
	if err != nil {
		return err
	}
	ek, err := ks.LoadEvaluationKey()
	if err != nil {
		return err
	}

	resp, err := bidder.EvaluateLocal(context.Background(), ek, &req, bidder.LocalConfig{
		Reserve:  *reserve,
		Strategy: strat,
		Workers:  *workers,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Evaluated %d bids of width %d in %dms\n", resp.NumBidders, resp.Width, resp.ProcessingTime)
	return writeJSON(*out, resp)
}

func runDecrypt(args []string) error {
	fs := flag.NewFlagSet("decrypt", flag.ContinueOnError)
	keysDir := fs.String("keys", "keys", "Keystore directory")
	responseInput := fs.String("response", "", "Auction response JSON (file path or inline JSON, required)")
	precision := fs.Int("precision", 0, "Decimal places used when the bids were encrypted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *responseInput == "" {
		return fmt.Errorf("%w: --response is required", errUsage)
	}

	var resp auctionapi.AuctionResponse
	if err := readJSONInput(*responseInput, &resp); err != nil {
		return err
	}
	ks, err := bidder.NewKeystore(*keysDir)
	if err != nil {
		return err
	}
	sk, err := ks.LoadSecretKey()
	if err != nil {
		return err
	}

	result, err := bidder.DecodeResponse(sk, &resp)
	if err != nil {
		return err
	}
	printResult(result, int32(*precision))
	return nil
}

func runOpen(args []string) error {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	keysDir := fs.String("keys", "keys", "Keystore directory")
	target := fs.String("evaluator", "vsock:16:5000", "Evaluator address: vsock:<cid>:<port> or tcp:<host:port>")
	auctionID := fs.String("auction", "", "Auction ID recorded in the receipt")
	width := fs.Int("width", 32, "Bid bit width")
	numBidders := fs.Int("bidders", 2, "Number of bidders")
	reserve := fs.Uint64("reserve", 0, "Reserve price in bid units")
	strategy := fs.String("strategy", "tree", "Tournament strategy: tree or sequential")
	timeout := fs.Duration("timeout", 2*time.Minute, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ks, err := bidder.NewKeystore(*keysDir)
	if err != nil {
		return err
	}
	blob, err := ks.EvaluationKeyBlob()
	if err != nil {
		return err
	}
	req, err := bidder.BuildRoundOpen(bidder.RoundParams{
		AuctionID:  *auctionID,
		Width:      *width,
		NumBidders: *numBidders,
		Reserve:    *reserve,
		Strategy:   *strategy,
	}, blob)
	if err != nil {
		return err
	}

	client, err := bidder.NewClient(*target)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := client.OpenRound(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON("", resp)
}

func runSubmit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	target := fs.String("evaluator", "vsock:16:5000", "Evaluator address: vsock:<cid>:<port> or tcp:<host:port>")
	requestInput := fs.String("request", "", "Auction request JSON (file path or inline JSON, required)")
	roundID := fs.String("round", "", "Round ID, overrides the one in the request")
	timeout := fs.Duration("timeout", 10*time.Minute, "Request timeout")
	out := fs.String("out", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *requestInput == "" {
		return fmt.Errorf("%w: --request is required", errUsage)
	}

	var req auctionapi.AuctionRequest
	if err := readJSONInput(*requestInput, &req); err != nil {
		return err
	}
	if *roundID != "" {
		req.RoundID = *roundID
	}

	client, err := bidder.NewClient(*target)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := client.Submit(ctx, &req)
	if err != nil {
		return err
	}
	return writeJSON(*out, resp)
}

func runDemo(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	bf := addBidFlags(fs)
	reserve := fs.Uint64("reserve", 0, "Reserve price in bid units")
	strategy := fs.String("strategy", "tree", "Tournament strategy: tree or sequential")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *bf.bids == "" {
		*bf.bids = "1,2"
	}

	bids, err := bf.parse()
	if err != nil {
		return err
	}
	strat, err := core.ParseStrategy(*strategy)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	params, err := fhe.NewParameters(fhe.DemoSmall)
	if err != nil {
		return err
	}

	logger.Info(fmt.Sprintf("Generating %s keys...", fhe.DemoSmall.Name))
	start := time.Now()
	sk, pk, ek := fhe.NewKeyGenerator(params).GenKeys()
	logger.Info(fmt.Sprintf("  done in %s", time.Since(start).Round(time.Millisecond)))

	logger.Info(fmt.Sprintf("Encrypting %d bids of %d bits...", len(bids), *bf.width))
	req, err := bidder.BuildRequest(fhe.NewPublicKeyEncryptor(pk), params, "demo", *bf.width, bids, bidder.RequestOptions{})
	if err != nil {
		return err
	}

	logger.Info("Evaluating the auction over ciphertexts...")
	start = time.Now()
	resp, err := bidder.EvaluateLocal(context.Background(), ek, req, bidder.LocalConfig{Reserve: *reserve, Strategy: strat})
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("  done in %s", time.Since(start).Round(time.Millisecond)))

	result, err := bidder.DecodeResponse(sk, resp)
	if err != nil {
		return err
	}
	logger.Info("")
	printResult(result, int32(*bf.precision))

	values := make([]uint64, len(bids))
	for k, bid := range bids {
		values[k] = bid.Value
	}
	plain, err := core.RankPlainBids(values, *reserve)
	if err != nil {
		return err
	}
	if plain.Winner != result.Winner || plain.Amount != result.Amount || plain.Sold != result.Sold {
		return fmt.Errorf("encrypted result (%d, %d) differs from plaintext ranking (%d, %d)",
			result.Winner, result.Amount, plain.Winner, plain.Amount)
	}
	logger.Info("Plaintext ranking agrees.")
	return nil
}

func printResult(result *core.Result, precision int32) {
	if !result.Sold {
		logger.Info("No sale: the highest bid is below the reserve")
		return
	}
	logger.Info(fmt.Sprintf("Winner: bidder %d", result.Winner))
	logger.Info(fmt.Sprintf("Amount: %s", core.UnitsToPrice(result.Amount, precision)))
}

func readJSONInput(input string, v any) error {
	// Try reading as file first
	data, err := os.ReadFile(input)
	if err != nil {
		// Treat as inline JSON
		data = []byte(input)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	if path == "" {
		logger.Info(string(data))
		return nil
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
