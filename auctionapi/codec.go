package auctionapi

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/fheauction/core"
	"github.com/cloudx-io/fheauction/fhe"
)

// maxKeyBlobSize caps the decompressed size of a key blob.
const maxKeyBlobSize = 512 << 20

// CiphertextBase64 is a ciphertext in the library's binary format, standard
// base64 encoded.
type CiphertextBase64 string

// Decode returns the raw ciphertext bytes.
func (c CiphertextBase64) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(string(c))
}

// EncodeCiphertexts serializes a bit sequence for transport.
func EncodeCiphertexts(bits []*fhe.Ciphertext) ([]CiphertextBase64, error) {
	out := make([]CiphertextBase64, len(bits))
	for i, ct := range bits {
		raw, err := ct.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ciphertext %d: %w", i, err)
		}
		out[i] = CiphertextBase64(base64.StdEncoding.EncodeToString(raw))
	}
	return out, nil
}

// DecodeCiphertexts parses a bit sequence under params. Failures are reported
// as core.SerializationError.
func DecodeCiphertexts(params fhe.Parameters, blobs []CiphertextBase64) ([]*fhe.Ciphertext, error) {
	out := make([]*fhe.Ciphertext, len(blobs))
	for i, blob := range blobs {
		raw, err := blob.Decode()
		if err != nil {
			return nil, core.NewSerializationError(fmt.Sprintf("ciphertext %d", i), err)
		}
		if out[i], err = params.UnmarshalCiphertext(raw); err != nil {
			return nil, core.NewSerializationError(fmt.Sprintf("ciphertext %d", i), err)
		}
	}
	return out, nil
}

// CiphertextBytes base64-decodes blobs without parsing them. Hashes are
// computed over these bytes.
func CiphertextBytes(blobs []CiphertextBase64) ([][]byte, error) {
	out := make([][]byte, len(blobs))
	for i, blob := range blobs {
		raw, err := blob.Decode()
		if err != nil {
			return nil, core.NewSerializationError(fmt.Sprintf("ciphertext %d", i), err)
		}
		out[i] = raw
	}
	return out, nil
}

// KeyBlob is a key envelope, gzip compressed and URL-safe base64 encoded.
// Evaluation keys run to tens of megabytes, so they always travel compressed.
type KeyBlob string

// EncodeKeyBlob compresses and encodes a marshalled key.
func EncodeKeyBlob(raw []byte) (KeyBlob, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return KeyBlob(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

// Decode reverses EncodeKeyBlob.
func (k KeyBlob) Decode() ([]byte, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(string(k))
	if err != nil {
		return nil, core.NewSerializationError("key blob base64", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, core.NewSerializationError("key blob gzip", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(io.LimitReader(gz, maxKeyBlobSize+1))
	if err != nil {
		return nil, core.NewSerializationError("key blob gzip", err)
	}
	if len(raw) > maxKeyBlobSize {
		return nil, core.NewSerializationError("key blob", fmt.Errorf("exceeds %d bytes", maxKeyBlobSize))
	}
	return raw, nil
}

// EvaluationKey decodes the blob into an evaluation key.
func (k KeyBlob) EvaluationKey() (*fhe.EvaluationKey, error) {
	raw, err := k.Decode()
	if err != nil {
		return nil, err
	}
	ek, err := fhe.UnmarshalEvaluationKey(raw)
	if err != nil {
		return nil, core.NewSerializationError("evaluation key", err)
	}
	return ek, nil
}

// ReceiptCOSE is a raw COSE_Sign1 receipt.
type ReceiptCOSE []byte

// EncodeBase64 encodes the receipt with standard base64.
func (r ReceiptCOSE) EncodeBase64() ReceiptCOSEBase64 {
	return ReceiptCOSEBase64(base64.StdEncoding.EncodeToString(r))
}

// ReceiptCOSEBase64 is a base64-encoded COSE_Sign1 receipt.
type ReceiptCOSEBase64 string

// Decode returns the raw COSE bytes.
func (r ReceiptCOSEBase64) Decode() (ReceiptCOSE, error) {
	raw, err := base64.StdEncoding.DecodeString(string(r))
	if err != nil {
		return nil, fmt.Errorf("decode receipt base64: %w", err)
	}
	return raw, nil
}

func (r ReceiptCOSEBase64) String() string { return string(r) }

var receiptEncMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor deterministic encoding options: %v", err))
	}
	return em
}

// MarshalReceiptPayload encodes p with deterministic CBOR so that equal
// payloads always produce equal bytes.
func MarshalReceiptPayload(p *ReceiptPayload) ([]byte, error) {
	return receiptEncMode.Marshal(p)
}

// UnmarshalReceiptPayload decodes a receipt payload.
func UnmarshalReceiptPayload(data []byte) (*ReceiptPayload, error) {
	var p ReceiptPayload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode receipt payload: %w", err)
	}
	return &p, nil
}
