// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Webhook headers.
const (
	EventHeader        = "X-GitHub-Event"
	SignatureHeader    = "X-Hub-Signature"
	Signature256Header = "X-Hub-Signature-256"
	DeliveryHeader     = "X-GitHub-Delivery"
)

// VerifySignature checks an "sha1=<hex>" or "sha256=<hex>" signature of body
// against secret in constant time.
func VerifySignature(secret, body []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: signature header missing", ErrAuthentication)
	}
	algo, digest, ok := strings.Cut(signature, "=")
	if !ok {
		return fmt.Errorf("%w: signature has no algorithm prefix", ErrAuthentication)
	}

	var newHash func() hash.Hash
	switch algo {
	case "sha1":
		newHash = sha1.New
	case "sha256":
		newHash = sha256.New
	default:
		return fmt.Errorf("%w: unsupported algorithm %q", ErrAuthentication, algo)
	}

	got, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrAuthentication)
	}

	mac := hmac.New(newHash, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("%w: digest mismatch", ErrAuthentication)
	}
	return nil
}

// Sign returns the "sha1=<hex>" signature of body. Used by tests and tools
// that replay deliveries.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}
