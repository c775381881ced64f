package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/fheauction/auctionapi"
)

func writePCRFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pcrs.json")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadKnownPCRSets(t *testing.T) {
	sets, err := LoadKnownPCRSets(writePCRFile(t, `{"pcr_sets":[{"pcr0":"AA","pcr1":" bb ","pcr2":"cc","commit_hash":"deadbeef"}]}`))
	assert.NoError(t, err)
	check.Equal(t, []PCRSet{{PCR0: "aa", PCR1: "bb", PCR2: "cc", CommitHash: "deadbeef"}}, sets)

	tests := []struct {
		name string
		body string
	}{
		{"no sets", `{"pcr_sets":[]}`},
		{"not json", `pcr0=aa`},
		{"empty register", `{"pcr_sets":[{"pcr0":"aa","pcr1":"","pcr2":"cc"}]}`},
		{"non hex register", `{"pcr_sets":[{"pcr0":"aa","pcr1":"bb","pcr2":"zz"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadKnownPCRSets(writePCRFile(t, tt.body))
			check.Error(t, err)
		})
	}

	_, err = LoadKnownPCRSets(filepath.Join(t.TempDir(), "missing.json"))
	check.Error(t, err)
}

func TestCheckReceiptPCRs(t *testing.T) {
	known := []PCRSet{
		{PCR0: "a0", PCR1: "a1", PCR2: "a2", CommitHash: "old"},
		{PCR0: "b0", PCR1: "b1", PCR2: "b2", CommitHash: "new"},
	}

	t.Run("second set matches", func(t *testing.T) {
		var result ReceiptValidationResult
		checkReceiptPCRs(auctionapi.PCRs{ImageFileHash: "b0", KernelHash: "b1", ApplicationHash: "b2"}, known, &result)
		check.True(t, result.PCRsValid)
		check.Equal(t, []string{
			"Attested PCR0: b0",
			"Attested PCR1: b1",
			"Attested PCR2: b2",
			"PCR set #0 (commit old): PCR0, PCR1, PCR2 differ",
			"PCR set #1 (commit new): match",
			"PCR measurements valid (set #1)",
		}, result.ValidationDetails)
	})

	t.Run("partial match is rejected", func(t *testing.T) {
		var result ReceiptValidationResult
		checkReceiptPCRs(auctionapi.PCRs{ImageFileHash: "a0", KernelHash: "b1", ApplicationHash: "a2"}, known, &result)
		check.False(t, result.PCRsValid)
		check.Equal(t, []string{
			"Attested PCR0: a0",
			"Attested PCR1: b1",
			"Attested PCR2: a2",
			"PCR set #0 (commit old): PCR1 differ",
			"PCR set #1 (commit new): PCR0, PCR2 differ",
			"PCR measurements match none of 2 known sets",
		}, result.ValidationDetails)
	})

	t.Run("no known sets", func(t *testing.T) {
		var result ReceiptValidationResult
		checkReceiptPCRs(auctionapi.PCRs{ImageFileHash: "a0"}, nil, &result)
		check.False(t, result.PCRsValid)
		check.Equal(t, "No known PCR sets supplied", result.ValidationDetails[len(result.ValidationDetails)-1])
	})
}

func TestCheckReceiptPCRs_LoadedSetsMatchAttestedHex(t *testing.T) {
	known, err := LoadKnownPCRSets(writePCRFile(t, `{"pcr_sets":[{"pcr0":"AA","pcr1":"01","pcr2":"02","commit_hash":"abc123"}]}`))
	assert.NoError(t, err)

	var result ReceiptValidationResult
	checkReceiptPCRs(auctionapi.PCRs{ImageFileHash: "aa", KernelHash: "01", ApplicationHash: "02"}, known, &result)
	check.True(t, result.PCRsValid)
}
