package validation

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cloudx-io/fheauction/auctionapi"
)

// LoadKnownPCRSets reads the evaluator image measurements a receipt may be
// matched against. Register values are stored as lower-case hex so that they
// compare equal to the values extracted from an attestation document.
func LoadKnownPCRSets(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read PCR sets: %w", err)
	}

	var config PCRConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse PCR sets %s: %w", path, err)
	}
	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("%s lists no PCR sets", path)
	}

	for i := range config.PCRSets {
		set := &config.PCRSets[i]
		for _, reg := range set.registers() {
			v := strings.ToLower(strings.TrimSpace(*reg.value))
			if v == "" {
				return nil, fmt.Errorf("PCR set #%d: %s is empty", i, reg.name)
			}
			if _, err := hex.DecodeString(v); err != nil {
				return nil, fmt.Errorf("PCR set #%d: %s is not hex: %w", i, reg.name, err)
			}
			*reg.value = v
		}
	}
	return config.PCRSets, nil
}

type pcrRegister struct {
	name  string
	value *string
}

func (s *PCRSet) registers() []pcrRegister {
	return []pcrRegister{{"PCR0", &s.PCR0}, {"PCR1", &s.PCR1}, {"PCR2", &s.PCR2}}
}

// mismatches lists the registers of pcrs that differ from s.
func (s PCRSet) mismatches(pcrs auctionapi.PCRs) []string {
	var out []string
	if pcrs.ImageFileHash != s.PCR0 {
		out = append(out, "PCR0")
	}
	if pcrs.KernelHash != s.PCR1 {
		out = append(out, "PCR1")
	}
	if pcrs.ApplicationHash != s.PCR2 {
		out = append(out, "PCR2")
	}
	return out
}

// checkReceiptPCRs matches the measurements attested in a nitro receipt
// against every known set and records one detail line per set. PCRsValid is
// set when at least one set matches on all three registers.
func checkReceiptPCRs(pcrs auctionapi.PCRs, known []PCRSet, result *ReceiptValidationResult) {
	result.PCRsValid = false
	result.addDetail("Attested PCR0: %s", pcrs.ImageFileHash)
	result.addDetail("Attested PCR1: %s", pcrs.KernelHash)
	result.addDetail("Attested PCR2: %s", pcrs.ApplicationHash)

	if len(known) == 0 {
		result.addDetail("No known PCR sets supplied")
		return
	}

	matched := -1
	for i, set := range known {
		diff := set.mismatches(pcrs)
		if len(diff) == 0 {
			result.addDetail("PCR set #%d (commit %s): match", i, set.CommitHash)
			if matched < 0 {
				matched = i
			}
			continue
		}
		result.addDetail("PCR set #%d (commit %s): %s differ", i, set.CommitHash, strings.Join(diff, ", "))
	}

	if matched < 0 {
		result.addDetail("PCR measurements match none of %d known sets", len(known))
		return
	}
	result.PCRsValid = true
	result.addDetail("PCR measurements valid (set #%d)", matched)
}
