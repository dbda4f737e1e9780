package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func stampBuild(t *testing.T, v, c, d string) {
	t.Helper()
	prevVersion, prevCommit, prevDate := version, commit, date
	t.Cleanup(func() { version, commit, date = prevVersion, prevCommit, prevDate })
	version, commit, date = v, c, d
}

func execVersion(t *testing.T, args ...string) string {
	t.Helper()
	root := newRootCmd()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"version"}, args...))
	require.NoError(t, root.Execute())
	return buf.String()
}

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	stampBuild(t, "1.2.3", "abcdef1", "2026-10-03")

	output := execVersion(t)
	require.Contains(t, output, "Pulse 1.2.3\n")
	require.Contains(t, output, "commit: abcdef1\n")
	require.Contains(t, output, "built: 2026-10-03\n")
	require.Contains(t, output, "go: go")
	require.Contains(t, output, "built-in mods: command, heartbeat, snapshot\n")
}

func TestVersionCommandShort(t *testing.T) {
	stampBuild(t, "0.4.0", "abcdef1", "2026-10-03")

	require.Equal(t, "0.4.0\n", execVersion(t, "--short"))
}

func TestVersionCommandRejectsArgs(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"version", "extra"})
	require.Error(t, root.Execute())
}
