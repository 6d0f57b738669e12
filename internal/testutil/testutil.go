// Package testutil provides shared test infrastructure: temporary pipeline
// repositories and small POSIX-shell fake processors that honor the
// processor contract (argv inputs, PIPELINE_* environment, atomic writes,
// exit codes).
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// WriteExecutable writes a processor script to path with the executable bit
// set.
func WriteExecutable(t *testing.T, path, script string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
}

// WriteLines writes n lines of the form "line N" to path.
func WriteLines(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	WriteFile(t, path, b.String())
}

// WriteJSON marshals v to path.
func WriteJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	WriteFile(t, path, string(data))
}

// CopyProcessor returns a processor that copies each input into
// PIPELINE_OUTPUT_DIR via tmp-then-rename.
func CopyProcessor() string {
	return `#!/bin/sh
set -eu
out="$PIPELINE_OUTPUT_DIR"
for f in "$@"; do
  base=$(basename "$f")
  cp "$f" "$out/$base.tmp"
  mv "$out/$base.tmp" "$out/$base"
done
`
}

// UpperProcessor returns a processor that uppercases its first input into
// PIPELINE_OUTPUT_DIR/result.txt, resuming from PIPELINE_LINE_OFFSET and
// recording final progress in PIPELINE_PROGRESS_PATH.
func UpperProcessor() string {
	return `#!/bin/sh
set -eu
in="$1"
out="$PIPELINE_OUTPUT_DIR/result.txt"
offset="${PIPELINE_LINE_OFFSET:-0}"
tmp="$out.tmp"
if [ "$offset" -gt 0 ] && [ -f "$out" ]; then
  cp "$out" "$tmp"
else
  : > "$tmp"
fi
tail -n +$((offset + 1)) "$in" | tr '[:lower:]' '[:upper:]' >> "$tmp"
mv "$tmp" "$out"
total=$(wc -l < "$in" | tr -d ' ')
printf '{"lineOffset": %s}' "$total" > "$PIPELINE_PROGRESS_PATH.tmp"
mv "$PIPELINE_PROGRESS_PATH.tmp" "$PIPELINE_PROGRESS_PATH"
`
}

// FlakyProcessor returns a processor that exits 10 on its first invocation
// and 0 afterwards, tracking attempts in counterPath.
func FlakyProcessor(counterPath string) string {
	return fmt.Sprintf(`#!/bin/sh
set -eu
f=%q
n=0
[ -f "$f" ] && n=$(cat "$f")
n=$((n + 1))
printf '%%s' "$n" > "$f"
if [ "$n" -lt 2 ]; then
  echo "simulated transient failure" >&2
  exit 10
fi
echo "flaky ok"
`, counterPath)
}

// ExitProcessor returns a processor that prints its streams and exits with
// the given code.
func ExitProcessor(code int) string {
	return fmt.Sprintf(`#!/bin/sh
echo "stdout says hello"
echo "stderr says hello" >&2
exit %d
`, code)
}

// EnvDumpProcessor returns a processor that writes its PIPELINE_* and
// OMP_NUM_THREADS environment, sorted, to PIPELINE_OUTPUT_DIR/env.txt.
func EnvDumpProcessor() string {
	return `#!/bin/sh
set -eu
env | grep -E '^(PIPELINE_|OMP_NUM_THREADS)' | sort > "$PIPELINE_OUTPUT_DIR/env.txt"
`
}

// SleepProcessor returns a processor that sleeps for the given number of
// seconds before exiting 0.
func SleepProcessor(seconds int) string {
	return fmt.Sprintf("#!/bin/sh\nsleep %d\n", seconds)
}
