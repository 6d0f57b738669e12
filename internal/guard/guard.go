// Package guard statically screens processor sources for network imports.
//
// The orchestrator is not a Python host, so processors are scanned
// textually: a line whose first token (after leading whitespace) is
// "import M" or "from M import ..." is flagged when M, or any dotted prefix
// of M, is in the forbidden set. The scan runs immediately before a stage
// executes; stages skipped for idempotency are never scanned.
package guard

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ForbiddenModules is the exact set of module names whose import fails the
// offline guard.
var ForbiddenModules = []string{
	"requests",
	"socket",
	"http",
	"http.client",
	"urllib",
	"urllib.request",
	"urllib.parse",
	"urllib.error",
	"urllib3",
	"aiohttp",
	"asyncio",
	"paramiko",
	"ftplib",
	"smtplib",
	"poplib",
	"imaplib",
	"telnetlib",
	"xmlrpc",
	"xmlrpc.client",
}

var forbidden = func() map[string]struct{} {
	m := make(map[string]struct{}, len(ForbiddenModules))
	for _, name := range ForbiddenModules {
		m[name] = struct{}{}
	}
	return m
}()

// ViolationError reports a forbidden module reference in a processor source.
type ViolationError struct {
	Path   string
	Module string
	Line   int
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("offline violation: %s imports forbidden module %q (line %d)", e.Path, e.Module, e.Line)
}

// Check scans the processor source at path. Returns a *ViolationError on
// the first forbidden import, nil when the source is clean.
func Check(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("guard: open %s: %w", path, err)
	}
	defer f.Close()

	lineNo := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		for _, mod := range importedModules(sc.Text()) {
			if hit, name := isForbidden(mod); hit {
				return &ViolationError{Path: path, Module: name, Line: lineNo}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("guard: scan %s: %w", path, err)
	}
	return nil
}

// ScanAll checks every path concurrently and returns the first violation or
// read error. Used by the pre-run --validate-offline pass.
func ScanAll(ctx context.Context, paths []string) error {
	g, _ := errgroup.WithContext(ctx)
	for _, p := range paths {
		g.Go(func() error { return Check(p) })
	}
	return g.Wait()
}

// importedModules extracts the module names referenced by a single source
// line, or nil when the line is not an import statement.
func importedModules(line string) []string {
	s := strings.TrimLeft(line, " \t")
	switch {
	case strings.HasPrefix(s, "import "):
		// "import a.b as c, d" names modules a.b and d.
		rest := strings.TrimPrefix(s, "import ")
		var mods []string
		for _, part := range strings.Split(rest, ",") {
			fields := strings.Fields(part)
			if len(fields) > 0 {
				mods = append(mods, fields[0])
			}
		}
		return mods
	case strings.HasPrefix(s, "from "):
		// "from a.b import c" names module a.b.
		fields := strings.Fields(strings.TrimPrefix(s, "from "))
		if len(fields) >= 2 && fields[1] == "import" {
			return fields[:1]
		}
	}
	return nil
}

// isForbidden reports whether mod or any dotted prefix of it is forbidden,
// returning the matching forbidden name.
func isForbidden(mod string) (bool, string) {
	if _, ok := forbidden[mod]; ok {
		return true, mod
	}
	for i := len(mod) - 1; i > 0; i-- {
		if mod[i] != '.' {
			continue
		}
		prefix := mod[:i]
		if _, ok := forbidden[prefix]; ok {
			return true, prefix
		}
	}
	return false, ""
}
