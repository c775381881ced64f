package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
)

// Ciphertext hashes bind receipts to the exact bytes that were submitted and
// returned. Callers pass the serialized ciphertexts so this package stays
// independent of the wire encoding.

// ComputeBidHash hashes one submitted bid.
//
// Formula: SHA256(round_id + "|" + bidder_index + "|" + len(ct_0) + ct_0 + ...)
// where every length is an 8-byte big-endian prefix.
func ComputeBidHash(roundID string, bidderIndex int, bits [][]byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|", roundID, bidderIndex)
	writeBlobs(h, bits)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ComputeRequestHash hashes the public round parameters together with the bid
// hashes in bidder order.
//
// Formula: SHA256(round_id + "|" + width + "|" + num_bidders + "|" + reserve + "|" + nonce + "|" + bid_hash_0 + "|" + ...)
func ComputeRequestHash(roundID string, width, numBidders int, reserve uint64, nonce string, bidHashes []string) string {
	data := fmt.Sprintf("%s|%d|%d|%d|%s", roundID, width, numBidders, reserve, nonce)
	for _, bh := range bidHashes {
		data += "|" + bh
	}
	sum := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", sum)
}

// ComputeResultHash hashes the returned identity and amount ciphertexts.
//
// Formula: SHA256(round_id + "|identity|" + blobs + "|amount|" + blobs)
func ComputeResultHash(roundID string, identity, amount [][]byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|identity|", roundID)
	writeBlobs(h, identity)
	fmt.Fprint(h, "|amount|")
	writeBlobs(h, amount)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func writeBlobs(h hash.Hash, blobs [][]byte) {
	var n [8]byte
	for _, b := range blobs {
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
}
