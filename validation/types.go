package validation

import (
	"fmt"

	"github.com/cloudx-io/fheauction/auctionapi"
)

// BaseValidationResult contains the signature checks common to both receipt
// modes. PCRsValid and CertificateValid only apply to nitro receipts.
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// ReceiptValidationResult contains the results of validating one auction
// receipt against the request that was sent and the response that came back.
type ReceiptValidationResult struct {
	BaseValidationResult
	Mode             string
	PayloadValid     bool // payload decodes and, in nitro mode, matches the attested digest
	PublicKeyMatch   bool // cose mode only
	RoundValid       bool
	BidHashesValid   bool
	RequestHashValid bool
	ResultHashValid  bool
	Payload          *auctionapi.ReceiptPayload
}

// IsValid returns true if every check that applies to the receipt mode passed
func (r *ReceiptValidationResult) IsValid() bool {
	common := r.SignatureValid && r.PayloadValid && r.RoundValid &&
		r.BidHashesValid && r.RequestHashValid && r.ResultHashValid
	if r.Mode == auctionapi.ReceiptModeNitro {
		return common && r.PCRsValid && r.CertificateValid
	}
	return common && r.PublicKeyMatch
}

func (r *ReceiptValidationResult) addDetail(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // fheauction repo commit used to build the evaluator image
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
