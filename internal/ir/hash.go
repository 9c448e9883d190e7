package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed keys.
// The version suffix allows the hashing scheme to migrate.
const (
	DomainFetch       = "storyflow/fetch/v1"
	DomainComputation = "storyflow/computation/v1"
	DomainEntry       = "storyflow/entry/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null byte keeps domain and data unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FetchKey computes the memo key for a filter set. Two filter sets with the
// same canonical form share one resolution per request.
func FetchKey(fs FilterSet) (string, error) {
	canonical, err := marshalCanonical(fs.Object())
	if err != nil {
		return "", fmt.Errorf("FetchKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFetch, canonical), nil
}

// ComputationHash identifies the content of a flat computation. Used by the
// store to detect no-op block writes and by replay to compare states.
func ComputationHash(c Computation) (string, error) {
	data, err := MarshalComputation(c)
	if err != nil {
		return "", fmt.Errorf("ComputationHash: %w", err)
	}
	return HashBytes(DomainComputation, data), nil
}

// HashBytes hashes already-serialized data under a domain prefix.
func HashBytes(domain string, data []byte) string {
	return hashWithDomain(domain, data)
}

// MustFetchKey is like FetchKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFetchKey(fs FilterSet) string {
	key, err := FetchKey(fs)
	if err != nil {
		panic(err)
	}
	return key
}
