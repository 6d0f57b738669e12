// Package audit appends hash-chained run events to state/audit_{runId}.jsonl.
//
// Each line is a JSON object whose hash field is SHA-256(prevHash +
// canonical entry), where the canonical entry is the object without its
// hash and prevHash fields, serialized with sorted keys. Rewriting or
// removing any line breaks every later link, so the trail is tamper-evident
// without any external state. The file is append-only; it is the one
// persisted artifact that is not rewritten via tmp-then-rename, because a
// torn final line invalidates only itself and is detected by verification.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/stagehand/internal/integrity"
)

// ErrChainBroken is returned by Verify when a hash link does not match.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Entry is one audit event as persisted.
type Entry struct {
	ID       string         `json:"id"`
	TS       time.Time      `json:"ts"`
	Stage    string         `json:"stage,omitempty"`
	Event    string         `json:"event"`
	Message  string         `json:"message"`
	Extra    map[string]any `json:"extra,omitempty"`
	Hash     string         `json:"hash"`
	PrevHash string         `json:"prevHash,omitempty"`
}

// Trail is an append-only hash-chained event log for one run.
type Trail struct {
	path string

	mu       sync.Mutex
	lastHash string
	loaded   bool
}

// NewTrail returns a Trail writing to path. The file is created on first
// append; an existing file is continued from its last entry's hash.
func NewTrail(path string) *Trail {
	return &Trail{path: path}
}

// Append writes one event to the trail. stage may be empty for run-level
// events. extra is merged into the entry verbatim.
func (t *Trail) Append(event, stage, message string, extra map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.loaded {
		last, err := lastEntryHash(t.path)
		if err != nil {
			return err
		}
		t.lastHash = last
		t.loaded = true
	}

	entry := Entry{
		ID:      uuid.New().String(),
		TS:      time.Now().UTC(),
		Stage:   stage,
		Event:   event,
		Message: message,
		Extra:   extra,
	}
	canonical, err := canonicalEntry(entry)
	if err != nil {
		return err
	}
	entry.PrevHash = t.lastHash
	entry.Hash = integrity.ChainHash(t.lastHash, canonical)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", t.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: append %s: %w", t.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("audit: sync %s: %w", t.path, err)
	}

	t.lastHash = entry.Hash
	return nil
}

// canonicalEntry serializes the hashable portion of an entry (everything
// except hash and prevHash) with sorted keys.
func canonicalEntry(e Entry) ([]byte, error) {
	m := map[string]any{
		"id":      e.ID,
		"ts":      e.TS,
		"event":   e.Event,
		"message": e.Message,
	}
	if e.Stage != "" {
		m["stage"] = e.Stage
	}
	if len(e.Extra) > 0 {
		m["extra"] = e.Extra
	}
	return integrity.CanonicalJSON(m)
}

// lastEntryHash reads the hash of the final well-formed entry in the file at
// path, or "" when the file is absent or empty.
func lastEntryHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	var last string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		last = e.Hash
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("audit: scan %s: %w", path, err)
	}
	return last, nil
}

// Verify walks the trail at path and checks every hash link.
// Returns ErrChainBroken (wrapped with the offending line number) on the
// first mismatch.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	prev := ""
	lineNo := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("audit: line %d: %w", lineNo, err)
		}
		canonical, err := canonicalEntry(e)
		if err != nil {
			return err
		}
		if e.PrevHash != prev || !integrity.VerifyChainLink(e.Hash, prev, canonical) {
			return fmt.Errorf("line %d: %w", lineNo, ErrChainBroken)
		}
		prev = e.Hash
	}
	return sc.Err()
}
