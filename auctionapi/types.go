// Package auctionapi defines the messages exchanged between bidders, the
// evaluator and the decrypting party, together with their encodings.
package auctionapi

import (
	"time"
)

// Message types. Every request and response carries one in its "type" field.
const (
	TypePing              = "ping"
	TypePong              = "pong"
	TypeRoundOpen         = "round_open"
	TypeRoundOpenResponse = "round_open_response"
	TypeAuctionRequest    = "auction_request"
	TypeAuctionResponse   = "auction_response"
	TypeError             = "error"
)

// Receipt modes.
const (
	// ReceiptModeCOSE signs the receipt payload as COSE_Sign1 with an ES256
	// key held by the evaluator.
	ReceiptModeCOSE = "cose"

	// ReceiptModeNitro embeds the receipt payload as user data in an AWS Nitro
	// attestation document.
	ReceiptModeNitro = "nitro"
)

// Request is the envelope used to route an incoming message.
type Request struct {
	Type string `json:"type"`
}

// PingResponse answers a ping.
type PingResponse struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned for requests that could not be routed or parsed.
type ErrorResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RoundOpenRequest registers the public parameters of a round with the
// evaluator. The evaluation key lets the evaluator run gates and nothing else.
type RoundOpenRequest struct {
	Type          string  `json:"type"`
	AuctionID     string  `json:"auction_id"`
	Width         int     `json:"width"`
	NumBidders    int     `json:"num_bidders"`
	Reserve       uint64  `json:"reserve,omitempty"`
	Strategy      string  `json:"strategy,omitempty"`
	EvaluationKey KeyBlob `json:"evaluation_key"`
}

// RoundOpenResponse returns the single-use round token.
type RoundOpenResponse struct {
	Type           string    `json:"type"`
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	RoundID        string    `json:"round_id,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	ProcessingTime int64     `json:"processing_time_ms"`
}

// EncryptedBidBits is one bid as base64 ciphertexts, most significant bit
// first.
type EncryptedBidBits struct {
	BidderID string             `json:"bidder_id,omitempty"`
	Bits     []CiphertextBase64 `json:"bits"`
}

// DemoWireCiphertext is a ciphertext spelled out as decimal integers: the mask
// coefficients and the body.
type DemoWireCiphertext struct {
	Mask []string `json:"mask"`
	Body string   `json:"body"`
}

// DemoWireBid is one bid in the decimal demo format. Count is the number of
// ciphertexts in the bid and must equal the round width.
type DemoWireBid struct {
	BidderID    string               `json:"bidder_id,omitempty"`
	Count       int                  `json:"count"`
	Ciphertexts []DemoWireCiphertext `json:"ciphertexts"`
}

// AuctionRequest submits the encrypted bids of an open round. Exactly one of
// Bids and DemoWireBids is set; position in the list is the bidder index.
type AuctionRequest struct {
	Type         string             `json:"type"`
	RoundID      string             `json:"round_id"`
	Bids         []EncryptedBidBits `json:"bids,omitempty"`
	DemoWireBids []DemoWireBid      `json:"demo_wire_bids,omitempty"`
	Nonce        string             `json:"nonce"`
	Timestamp    time.Time          `json:"timestamp"`
}

// AuctionResponse carries the encrypted result and the evaluator's receipt.
type AuctionResponse struct {
	Type           string             `json:"type"`
	Success        bool               `json:"success"`
	Message        string             `json:"message"`
	RoundID        string             `json:"round_id,omitempty"`
	Identity       []CiphertextBase64 `json:"identity,omitempty"`
	Amount         []CiphertextBase64 `json:"amount,omitempty"`
	NumBidders     int                `json:"num_bidders,omitempty"`
	Width          int                `json:"width,omitempty"`
	Reserve        uint64             `json:"reserve,omitempty"`
	Receipt        *Receipt           `json:"receipt,omitempty"`
	ProcessingTime int64              `json:"processing_time_ms"`
}

// Receipt proves which bids went in and which result came out.
type Receipt struct {
	Mode string            `json:"mode"`
	COSE ReceiptCOSEBase64 `json:"cose_base64"`

	// PublicKeyPEM is the evaluator's ES256 verification key (cose mode only).
	PublicKeyPEM string `json:"public_key_pem,omitempty"`

	// Payload is the base64 CBOR receipt payload (nitro mode only). The
	// attestation user data holds its SHA-256 digest, since the Nitro Security
	// Module caps user data at 1 KiB.
	Payload string `json:"payload_base64,omitempty"`
}

// ReceiptPayload is the signed content of a receipt.
type ReceiptPayload struct {
	RoundID      string   `cbor:"round_id" json:"round_id"`
	AuctionID    string   `cbor:"auction_id" json:"auction_id"`
	RequestHash  string   `cbor:"request_hash" json:"request_hash"`
	BidHashes    []string `cbor:"bid_hashes" json:"bid_hashes"`
	ResultHash   string   `cbor:"result_hash" json:"result_hash"`
	Width        int      `cbor:"width" json:"width"`
	NumBidders   int      `cbor:"num_bidders" json:"num_bidders"`
	Reserve      uint64   `cbor:"reserve" json:"reserve"`
	Strategy     string   `cbor:"strategy" json:"strategy"`
	RequestNonce string   `cbor:"request_nonce" json:"request_nonce"`
	Timestamp    int64    `cbor:"timestamp" json:"timestamp"` // unix milliseconds
}

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}
