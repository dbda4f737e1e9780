package command

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"strings"
)

// shell is an interpreter that accepts a script as a single argument.
type shell struct {
	path string
	flag string
}

// resolveShell prefers the configured interpreter, then cmd on Windows,
// then bash or sh from PATH.
func resolveShell(configured string) (shell, error) {
	switch {
	case configured != "":
		return shell{path: configured, flag: "-c"}, nil
	case runtime.GOOS == "windows":
		return shell{path: "cmd", flag: "/C"}, nil
	}
	for _, name := range []string{"bash", "sh"} {
		if path, err := exec.LookPath(name); err == nil {
			return shell{path: path, flag: "-c"}, nil
		}
	}
	return shell{}, fmt.Errorf("no shell found in PATH (tried bash, sh)")
}

func (s shell) command(ctx context.Context, script string, extra map[string]string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, s.path, s.flag, script)
	cmd.Env = environ(extra)
	return cmd
}

// environ returns the process environment followed by extra in key order.
func environ(extra map[string]string) []string {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// output is the trimmed stdout and stderr of one run.
type output struct {
	stdout string
	stderr string
}

// summary prefers stderr, which carries the reason on failure.
func (o output) summary() string {
	if o.stderr != "" {
		return o.stderr
	}
	return o.stdout
}

func capture(cmd *exec.Cmd) (output, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	err := cmd.Run()
	return output{
		stdout: strings.TrimSpace(stdout.String()),
		stderr: strings.TrimSpace(stderr.String()),
	}, err
}
