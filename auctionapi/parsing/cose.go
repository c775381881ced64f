package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ExtractCOSEPayload extracts the payload from a COSE_Sign1 4-element array
// COSE_Sign1 structure: [protected, unprotected, payload, signature]
// Accepts both the untagged form produced by the Nitro Security Module and the
// tagged form (tag 18) produced by go-cose.
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	parts, err := SplitCOSESign1(coseBytes)
	if err != nil {
		return nil, err
	}

	payload, ok := parts[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid payload in COSE structure")
	}

	return payload, nil
}

// SplitCOSESign1 returns the four elements of a tagged or untagged
// COSE_Sign1 structure.
func SplitCOSESign1(coseBytes []byte) ([]any, error) {
	var tagged cbor.RawTag
	if err := cbor.Unmarshal(coseBytes, &tagged); err == nil {
		if tagged.Number != 18 {
			return nil, fmt.Errorf("unexpected CBOR tag %d, want 18 (COSE_Sign1)", tagged.Number)
		}
		coseBytes = tagged.Content
	}

	var coseArray []any
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return nil, fmt.Errorf("parse COSE array: %w", err)
	}

	if len(coseArray) != 4 {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}
	return coseArray, nil
}
