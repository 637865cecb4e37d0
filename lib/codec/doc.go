// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the gatekeeper's CBOR encoding configuration.
//
// Human-edited inputs (the YAML config, the JSONC rules file) and CLI
// output are text. State the gatekeeper writes for itself, currently
// the tripwire record, is CBOR. The encoder uses Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items, so the same record always
// produces identical bytes.
//
//	data, err := codec.Marshal(record)
//	err = codec.Unmarshal(data, &record)
//
// Types serialized only as CBOR use `cbor` struct tags.
package codec
