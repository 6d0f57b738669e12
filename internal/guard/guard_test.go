package guard_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/stagehand/internal/guard"
	"github.com/ashita-ai/stagehand/internal/testutil"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "processor.py")
	testutil.WriteFile(t, path, content)
	return path
}

func TestCheck_CleanSource(t *testing.T) {
	path := writeSource(t, `import os
import sys
import json
from pathlib import Path

print("hello")
`)
	require.NoError(t, guard.Check(path))
}

func TestCheck_FlagsDirectImport(t *testing.T) {
	path := writeSource(t, "import os\nimport socket\n")

	err := guard.Check(path)
	var v *guard.ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "socket", v.Module)
	assert.Equal(t, 2, v.Line)
}

func TestCheck_FlagsFromImport(t *testing.T) {
	path := writeSource(t, "from urllib.request import urlopen\n")

	err := guard.Check(path)
	var v *guard.ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "urllib.request", v.Module)
}

func TestCheck_FlagsDottedPrefix(t *testing.T) {
	// asyncio.tasks is not in the set but its prefix asyncio is.
	path := writeSource(t, "import asyncio.tasks\n")

	err := guard.Check(path)
	var v *guard.ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "asyncio", v.Module)
}

func TestCheck_FlagsIndentedAndAliasedImports(t *testing.T) {
	path := writeSource(t, `def lazy():
    import requests as r
    return r
`)
	err := guard.Check(path)
	var v *guard.ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "requests", v.Module)
}

func TestCheck_FlagsCommaSeparatedImports(t *testing.T) {
	path := writeSource(t, "import json, smtplib\n")

	err := guard.Check(path)
	var v *guard.ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "smtplib", v.Module)
}

func TestCheck_IgnoresNonImportMentions(t *testing.T) {
	path := writeSource(t, `# import socket would be bad
message = "do not import urllib here"
importlib = None
import importlib.util
`)
	assert.NoError(t, guard.Check(path), "comments, strings, and prefix-similar modules must not trip the guard")
}

func TestCheck_ForbiddenSetIsExact(t *testing.T) {
	for _, mod := range guard.ForbiddenModules {
		path := writeSource(t, "import "+mod+"\n")
		err := guard.Check(path)
		var v *guard.ViolationError
		require.ErrorAs(t, err, &v, "module %s must be flagged", mod)
		assert.Equal(t, mod, v.Module)
	}
}

func TestCheck_MissingFile(t *testing.T) {
	err := guard.Check(filepath.Join(t.TempDir(), "absent.py"))
	require.Error(t, err)
	var v *guard.ViolationError
	assert.False(t, errors.As(err, &v), "a read failure is not a violation")
}

func TestScanAll(t *testing.T) {
	clean := writeSource(t, "import os\n")
	dirty := writeSource(t, "import ftplib\n")

	require.NoError(t, guard.ScanAll(context.Background(), []string{clean}))

	err := guard.ScanAll(context.Background(), []string{clean, dirty})
	var v *guard.ViolationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "ftplib", v.Module)
}
