// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
)

// Rules lists the directories PathPolicy treats specially.
type Rules struct {
	// Sanctioned directories are allowed without an alert.
	Sanctioned []string `json:"sanctioned" yaml:"sanctioned"`

	// Deny prefixes are refused.
	Deny []string `json:"deny" yaml:"deny"`
}

// Merge returns r with other's entries appended.
func (r Rules) Merge(other Rules) Rules {
	return Rules{
		Sanctioned: append(append([]string(nil), r.Sanctioned...), other.Sanctioned...),
		Deny:       append(append([]string(nil), r.Deny...), other.Deny...),
	}
}

// rulesDomainKey keys the BLAKE3 hash of a rule set so its digest
// cannot collide with digests of other data.
var rulesDomainKey = [32]byte{
	'b', 'u', 'r', 'e', 'a', 'u', '.', 'g', 'a', 't', 'e', 'k', 'e', 'e', 'p', 'e',
	'r', '.', 'r', 'u', 'l', 'e', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Digest returns the hex BLAKE3 digest of the rule set. Order and
// duplicates within a list do not change the digest.
func (r Rules) Digest() string {
	hasher, err := blake3.NewKeyed(rulesDomainKey[:])
	if err != nil {
		panic("gatekeeper: BLAKE3 keyed hasher: " + err.Error())
	}
	for _, section := range []struct {
		name    string
		entries []string
	}{{"sanctioned", r.Sanctioned}, {"deny", r.Deny}} {
		entries := slices.Clone(section.entries)
		slices.Sort(entries)
		entries = slices.Compact(entries)
		fmt.Fprintf(hasher, "%s %d\n", section.name, len(entries))
		for _, entry := range entries {
			fmt.Fprintf(hasher, "%s\x00", entry)
		}
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// LoadRules reads a JSONC rules file. Comments and trailing commas are
// stripped before decoding; unknown fields are an error so a typo in a
// deny rule does not silently disable it.
//
//	{
//	    // the sandbox home
//	    "sanctioned": ["/home/user/Ghost"],
//	    "deny": ["/home/user/.ssh"],
//	}
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("reading rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes JSONC rules data.
func ParseRules(data []byte) (Rules, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	var rules Rules
	if err := decoder.Decode(&rules); err != nil {
		return Rules{}, fmt.Errorf("parsing rules: %w", err)
	}
	return rules, nil
}
