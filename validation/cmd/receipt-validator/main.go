package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudx-io/fheauction/auctionapi"
	"github.com/cloudx-io/fheauction/validation"
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

func main() {
	var (
		requestInput  = flag.String("request", "", "Auction request JSON (file path or inline JSON)")
		responseInput = flag.String("response", "", "Auction response JSON (file path or inline JSON)")
		publicKeyPath = flag.String("public-key", "", "Path to the evaluator receipt key PEM (cose mode, optional)")
		pcrPath       = flag.String("pcrs", "", "Path to known PCR sets JSON (nitro mode)")
		outputFormat  = flag.String("format", "text", "Output format: text or json")
		help          = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *requestInput == "" || *responseInput == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --request and --response are required\n")
		os.Exit(1)
	}

	input, err := buildValidationInput(*requestInput, *responseInput, *publicKeyPath, *pcrPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading inputs: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateReceipt(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		if err := outputJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	logger.Info("Auction Receipt Validator")
	logger.Info("")
	logger.Info("Checks that an evaluator receipt binds the submitted encrypted bids")
	logger.Info("and the returned encrypted result.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  receipt-validator --request <json> --response <json> [options]")
	logger.Info("")
	logger.Info("Required Flags:")
	logger.Info("  --request <json>                  auction_request sent to the evaluator")
	logger.Info("  --response <json>                 auction_response returned, with its receipt")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --public-key <path>               Pin the evaluator receipt key (cose mode)")
	logger.Info("  --pcrs <path>                     Known PCR sets (nitro mode)")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Input Format:")
	logger.Info("  Each JSON flag accepts either a file path or inline JSON string.")
	logger.Info("")
	logger.Info("PCR file:")
	logger.Info(`  {"pcr_sets": [{"pcr0": "...", "pcr1": "...", "pcr2": "...", "commit_hash": "..."}]}`)
	logger.Info("")
	logger.Info("Examples:")
	logger.Info("  receipt-validator --request request.json --response response.json")
	logger.Info("  receipt-validator --request request.json --response response.json --pcrs pcrs.json --format json")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Validation passed")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
}

func readJSONInput(input string) ([]byte, error) {
	// Try reading as file first
	if data, err := os.ReadFile(input); err == nil {
		return data, nil
	}
	// Treat as inline JSON
	return []byte(input), nil
}

func buildValidationInput(requestInput, responseInput, publicKeyPath, pcrPath string) (*validation.ReceiptValidationInput, error) {
	requestJSON, err := readJSONInput(requestInput)
	if err != nil {
		return nil, err
	}
	var request auctionapi.AuctionRequest
	if err := json.Unmarshal(requestJSON, &request); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}

	responseJSON, err := readJSONInput(responseInput)
	if err != nil {
		return nil, err
	}
	var response auctionapi.AuctionResponse
	if err := json.Unmarshal(responseJSON, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Receipt == nil {
		return nil, fmt.Errorf("missing receipt field in response")
	}

	input := &validation.ReceiptValidationInput{
		Request:  &request,
		Response: &response,
	}

	if publicKeyPath != "" {
		data, err := os.ReadFile(publicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		input.ExpectedPublicKeyPEM = string(data)
	}

	if pcrPath != "" {
		if input.KnownPCRs, err = validation.LoadKnownPCRSets(pcrPath); err != nil {
			return nil, err
		}
	}

	return input, nil
}

func outputText(result *validation.ReceiptValidationResult) {
	logger.Info("Auction Receipt Validator")
	logger.Info("=========================")
	logger.Info("")

	logger.Info(fmt.Sprintf("Receipt mode: %s", result.Mode))
	if p := result.Payload; p != nil {
		logger.Info(fmt.Sprintf("Round:        %s (auction %s)", p.RoundID, p.AuctionID))
		logger.Info(fmt.Sprintf("Bidders:      %d, width %d, reserve %d, strategy %s", p.NumBidders, p.Width, p.Reserve, p.Strategy))
	}

	logger.Info("")
	logger.Info("Validation Details:")
	logger.Info("-------------------")
	for _, detail := range result.ValidationDetails {
		logger.Info("  " + detail)
	}

	logger.Info("")
	logger.Info("Summary:")
	if result.Mode == auctionapi.ReceiptModeNitro {
		logger.Info(fmt.Sprintf("  PCRs Valid:          %v", result.PCRsValid))
		logger.Info(fmt.Sprintf("  Certificate Valid:   %v", result.CertificateValid))
	} else {
		logger.Info(fmt.Sprintf("  Public Key Match:    %v", result.PublicKeyMatch))
	}
	logger.Info(fmt.Sprintf("  Signature Valid:     %v", result.SignatureValid))
	logger.Info(fmt.Sprintf("  Payload Valid:       %v", result.PayloadValid))
	logger.Info(fmt.Sprintf("  Round Valid:         %v", result.RoundValid))
	logger.Info(fmt.Sprintf("  Bid Hashes Valid:    %v", result.BidHashesValid))
	logger.Info(fmt.Sprintf("  Request Hash Valid:  %v", result.RequestHashValid))
	logger.Info(fmt.Sprintf("  Result Hash Valid:   %v", result.ResultHashValid))

	logger.Info("")
	logger.Info("=========================")
	if result.IsValid() {
		logger.Info("VALIDATION: ✓ PASSED")
		logger.Info("Exit Code: 0")
	} else {
		logger.Info("VALIDATION: ✗ FAILED")
		logger.Info("Exit Code: 1")
	}
}

func outputJSON(result *validation.ReceiptValidationResult) error {
	output := map[string]any{
		"valid":              result.IsValid(),
		"mode":               result.Mode,
		"signature_valid":    result.SignatureValid,
		"payload_valid":      result.PayloadValid,
		"round_valid":        result.RoundValid,
		"bid_hashes_valid":   result.BidHashesValid,
		"request_hash_valid": result.RequestHashValid,
		"result_hash_valid":  result.ResultHashValid,
		"details":            result.ValidationDetails,
	}
	if result.Mode == auctionapi.ReceiptModeNitro {
		output["pcrs_valid"] = result.PCRsValid
		output["certificate_valid"] = result.CertificateValid
	} else {
		output["public_key_match"] = result.PublicKeyMatch
	}
	if result.Payload != nil {
		output["payload"] = result.Payload
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}
