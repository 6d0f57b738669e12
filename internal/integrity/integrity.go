// Package integrity provides tamper-evident hashing for the audit trail.
// All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON serializes v with deterministic key order. encoding/json
// already emits map keys sorted, so any map-shaped document round-trips to
// the same bytes regardless of insertion order.
func CanonicalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return b, nil
}

// ChainHash produces the hex SHA-256 of prevHash prepended to the canonical
// entry bytes. An empty prevHash anchors the chain at its first entry.
func ChainHash(prevHash string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChainLink recomputes the hash for one chain entry and reports
// whether it matches the stored value.
func VerifyChainLink(stored, prevHash string, canonical []byte) bool {
	return stored == ChainHash(prevHash, canonical)
}
