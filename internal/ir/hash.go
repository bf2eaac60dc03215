package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainOutput   = "incr/output/v1"
	DomainResource = "incr/resource/v1"
	DomainTaskKey  = "incr/task-key/v1"
)

// NewDomainHash returns a SHA-256 hash that already contains the domain
// prefix and the 0x00 separator. Use it to stream large content (resource
// bytes) into a domain-separated digest.
func NewDomainHash(domain string) hash.Hash {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // separator prevents domain/data boundary ambiguity
	return h
}

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
func hashWithDomain(domain string, data []byte) string {
	h := NewDomainHash(domain)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest computes the domain-separated digest of v's canonical JSON.
func Digest(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// KeyDigest derives a task key ID from a structured input. Definitions whose
// input is not a plain string use it in their Key method.
func KeyDigest(input any) (string, error) {
	return Digest(DomainTaskKey, input)
}

// MustKeyDigest is like KeyDigest but panics on error.
// Use only when the input is known to be JSON-encodable.
func MustKeyDigest(input any) string {
	d, err := KeyDigest(input)
	if err != nil {
		panic(err)
	}
	return d
}
