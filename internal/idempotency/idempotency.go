// Package idempotency computes stage fingerprints and skip decisions.
//
// The key is a pure function of the stage's input contents, the processor
// version, and the canonical parameter serialization, so computing it twice
// over an unchanged filesystem is bit-identical.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ashita-ai/stagehand/internal/model"
)

// ComputeKey returns the hex SHA-256 idempotency key for a stage.
// Components, joined with "|" before hashing:
//   - hex SHA-256 of each input file's contents, in declaration order, or
//     the literal "missing" for an absent input
//   - the processor version string
//   - the parameter mapping as JSON with sorted keys
func ComputeKey(inputs []string, processorPath string, params map[string]any) (string, error) {
	parts := make([]string, 0, len(inputs)+2)
	for _, in := range inputs {
		h, err := hashFile(in)
		if err != nil {
			if os.IsNotExist(err) {
				parts = append(parts, "missing")
				continue
			}
			return "", fmt.Errorf("idempotency: hash %s: %w", in, err)
		}
		parts = append(parts, h)
	}

	parts = append(parts, ProcessorVersion(processorPath))

	canonical, err := canonicalParams(params)
	if err != nil {
		return "", err
	}
	parts = append(parts, canonical)

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:]), nil
}

// ProcessorVersion serializes the processor file's modification time as a
// stable string ("v" + unix seconds), or "v0" when the file cannot be
// statted. Content hashing would be more robust under clock skew, but mtime
// matches the established artifact format.
func ProcessorVersion(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "v0"
	}
	return fmt.Sprintf("v%d", info.ModTime().Unix())
}

// ShouldSkip decides whether a stage may be skipped: idempotency must be
// enabled, a previous record must carry the same key, and the completion
// marker must exist. hasRecord is false when the stage has no persisted
// record yet.
func ShouldSkip(enabled bool, rec model.StageRecord, hasRecord bool, key string, markerExists bool) bool {
	return enabled && hasRecord && rec.IdempotencyKey == key && markerExists
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalParams serializes params deterministically. encoding/json sorts
// map keys, including in nested maps. A nil mapping canonicalizes as "{}".
func canonicalParams(params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("idempotency: canonicalize params: %w", err)
	}
	return string(b), nil
}
