package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/fheauction/auctionapi"
)

const (
	// readTimeout bounds how long a client may take to upload a request.
	// Round-open requests carry evaluation keys of tens of megabytes.
	readTimeout = 2 * time.Minute

	maxRequestBytes = 1 << 30

	cleanupInterval = 30 * time.Second
)

// ServerConfig is the evaluator configuration, read from the environment.
type ServerConfig struct {
	Listen         string
	MaxConnections int
	Workers        int
	ReceiptMode    string
	RoundTTL       time.Duration
}

// LoadServerConfig reads the EVALUATOR_* environment variables.
func LoadServerConfig() (ServerConfig, error) {
	maxConnections, err := getRequiredEnvInt("EVALUATOR_MAX_CONNECTIONS")
	if err != nil {
		return ServerConfig{}, fmt.Errorf("failed to get max connections config: %w", err)
	}
	workers, err := getEnvInt("EVALUATOR_WORKERS", runtime.NumCPU())
	if err != nil {
		return ServerConfig{}, err
	}
	roundTTL, err := getEnvDuration("EVALUATOR_ROUND_TTL", 10*time.Minute)
	if err != nil {
		return ServerConfig{}, err
	}

	cfg := ServerConfig{
		Listen:         getEnvString("EVALUATOR_LISTEN", "vsock:5000"),
		MaxConnections: maxConnections,
		Workers:        workers,
		ReceiptMode:    getEnvString("EVALUATOR_RECEIPT_MODE", auctionapi.ReceiptModeCOSE),
		RoundTTL:       roundTTL,
	}
	if cfg.MaxConnections < 1 {
		return ServerConfig{}, fmt.Errorf("EVALUATOR_MAX_CONNECTIONS must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.Workers < 1 {
		return ServerConfig{}, fmt.Errorf("EVALUATOR_WORKERS must be positive, got %d", cfg.Workers)
	}
	if _, _, err := parseListen(cfg.Listen); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// EvaluatorServer accepts round and auction requests over vsock or TCP.
type EvaluatorServer struct {
	cfg      ServerConfig
	rounds   *RoundRegistry
	receipts *ReceiptIssuer
}

// NewEvaluatorServer creates a server with its receipt issuer.
func NewEvaluatorServer(cfg ServerConfig) (*EvaluatorServer, error) {
	var keyManager *KeyManager
	var attester EnclaveAttester
	var err error

	switch cfg.ReceiptMode {
	case auctionapi.ReceiptModeNitro:
		if attester, err = getEnclaveAttester(); err != nil {
			return nil, fmt.Errorf("failed to initialize enclave attester: %w", err)
		}
		log.Printf("INFO: NSM attester initialized")
	default:
		if keyManager, err = NewKeyManager(); err != nil {
			return nil, fmt.Errorf("failed to initialize key manager: %w", err)
		}
		log.Printf("INFO: KeyManager initialized")
	}

	receipts, err := NewReceiptIssuer(cfg.ReceiptMode, keyManager, attester)
	if err != nil {
		return nil, err
	}

	return &EvaluatorServer{
		cfg:      cfg,
		rounds:   NewRoundRegistry(cfg.RoundTTL),
		receipts: receipts,
	}, nil
}

// Start listens on the configured address and serves until ctx is done.
func (s *EvaluatorServer) Start(ctx context.Context) error {
	listener, err := listen(s.cfg.Listen)
	if err != nil {
		return err
	}
	log.Printf("INFO: Evaluator listening on %s (receipts: %s)", s.cfg.Listen, s.receipts.Mode())
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done. At most
// MaxConnections are handled at once; further connections are closed
// immediately.
func (s *EvaluatorServer) Serve(ctx context.Context, listener net.Listener) error {
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	s.rounds.StartExpirationCleanup(ctx, cleanupInterval)
	log.Printf("INFO: Round expiration cleanup started (interval: %s, ttl: %s)", cleanupInterval, s.cfg.RoundTTL)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	semaphore := make(chan struct{}, s.cfg.MaxConnections)
	log.Printf("INFO: Connection pool initialized with %d max concurrent connections, %d evaluation workers",
		s.cfg.MaxConnections, s.cfg.Workers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("ERROR: Failed to accept connection: %v", err)
			continue
		}

		// Acquire worker slot - immediate rejection if pool full
		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }() // Release worker slot
				s.handleConnection(ctx, c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

func (s *EvaluatorServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(conn, maxRequestBytes+1))
	if err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}
	if n > maxRequestBytes {
		log.Printf("ERROR: Request exceeds %d bytes, dropping connection", maxRequestBytes)
		return
	}

	response := s.handleRequest(ctx, buf.Bytes())

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

// handleRequest routes one request on its type field and returns the response
// to encode.
func (s *EvaluatorServer) handleRequest(ctx context.Context, raw []byte) any {
	var baseReq auctionapi.Request
	if err := json.Unmarshal(raw, &baseReq); err != nil {
		log.Printf("ERROR: Failed to decode base request: %v", err)
		return errorResponse("Failed to decode request: %v", err)
	}

	log.Printf("INFO: Received request type: %s", baseReq.Type)

	switch baseReq.Type {
	case auctionapi.TypePing:
		return auctionapi.PingResponse{Type: auctionapi.TypePong, Timestamp: time.Now().UTC()}

	case auctionapi.TypeRoundOpen:
		var req auctionapi.RoundOpenRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Printf("ERROR: Failed to decode round open request: %v", err)
			return errorResponse("Failed to decode round open request: %v", err)
		}
		return ProcessRoundOpen(s.rounds, req)

	case auctionapi.TypeAuctionRequest:
		var req auctionapi.AuctionRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Printf("ERROR: Failed to decode auction request: %v", err)
			return errorResponse("Failed to decode auction request: %v", err)
		}
		return ProcessAuction(ctx, s.receipts, s.rounds, s.cfg.Workers, req)

	default:
		return errorResponse("Unknown request type: %s", baseReq.Type)
	}
}

func errorResponse(format string, args ...any) auctionapi.ErrorResponse {
	return auctionapi.ErrorResponse{
		Type:    auctionapi.TypeError,
		Success: false,
		Message: fmt.Sprintf(format, args...),
	}
}

// parseListen splits "vsock:<port>" or "tcp:<host:port>".
func parseListen(spec string) (network, address string, err error) {
	network, address, ok := strings.Cut(spec, ":")
	if !ok || address == "" {
		return "", "", fmt.Errorf("invalid listen address %q (want vsock:<port> or tcp:<host:port>)", spec)
	}
	switch network {
	case "vsock":
		if _, err := strconv.ParseUint(address, 10, 32); err != nil {
			return "", "", fmt.Errorf("invalid vsock port %q: %w", address, err)
		}
	case "tcp":
	default:
		return "", "", fmt.Errorf("unsupported listen network %q", network)
	}
	return network, address, nil
}

func listen(spec string) (net.Listener, error) {
	network, address, err := parseListen(spec)
	if err != nil {
		return nil, err
	}
	if network == "tcp" {
		listener, err := net.Listen("tcp", address)
		if err != nil {
			return nil, fmt.Errorf("failed to create tcp listener: %w", err)
		}
		return listener, nil
	}

	port, _ := strconv.ParseUint(address, 10, 32)
	listener, err := vsock.Listen(uint32(port), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create vsock listener: %w", err)
	}
	return listener, nil
}

// Helper function for required environment variable parsing
func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	if os.Getenv(key) == "" {
		return fallback, nil
	}
	return getRequiredEnvInt(key)
}

func getEnvString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		log.Printf("INFO: Using %s=%s from environment", key, value)
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a positive duration)", key, value)
	}
	return d, nil
}

func main() {
	cfg, err := LoadServerConfig()
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	server, err := NewEvaluatorServer(cfg)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	log.Fatal(server.Start(context.Background()))
}
