package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for derived identifiers.
// Version suffix enables future algorithm migration.
const (
	DomainID       = "lix/id/v1"
	DomainSnapshot = "lix/snapshot/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// DeterministicID derives a UUID-formatted identifier from seed and seq.
// The same inputs always give the same id. Version nibble 8 marks the id
// as derived rather than random (RFC 9562 custom UUID).
func DeterministicID(seed string, seq int64) string {
	canonical, err := MarshalCanonical(Object{
		"seed": String(seed),
		"seq":  Int(seq),
	})
	if err != nil {
		// Object of a string and an int always marshals.
		panic(fmt.Sprintf("ir.DeterministicID: %v", err))
	}
	sum := hashWithDomain(DomainID, canonical)

	var b [16]byte
	copy(b[:], sum[:16])
	b[6] = (b[6] & 0x0f) | 0x80
	b[8] = (b[8] & 0x3f) | 0x80

	s := hex.EncodeToString(b[:])
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
}

// SnapshotHash returns the content hash of a snapshot document. Documents
// that differ only in key order or whitespace hash equally. A tombstone
// hashes to the empty string.
func SnapshotHash(snapshot []byte) (string, error) {
	if IsNullSnapshot(snapshot) {
		return "", nil
	}
	canonical, err := CanonicalizeJSON(snapshot)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: %w", err)
	}
	return hex.EncodeToString(hashWithDomain(DomainSnapshot, canonical)), nil
}
