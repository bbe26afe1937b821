package relay

import (
	"fmt"
	"runtime"

	"github.com/guseggert/kuber/agent/executor"
	"github.com/kballard/go-shellquote"
)

// scriptName is passed as $0 to the wrapper script.
const scriptName = "kuber"

func DefaultShell() string {
	if runtime.GOOS == "windows" {
		return "sh"
	}
	return "bash"
}

// Commands builds the fixed command lines a session is allowed to run.
type Commands struct {
	// Shell runs Script. Defaults to DefaultShell().
	Shell string
	// Script is the wrapper script source that "sh" requests run with their arguments.
	Script string
}

func (c Commands) shell() string {
	if c.Shell == "" {
		return DefaultShell()
	}
	return c.Shell
}

// ListFiles returns the directory listing command.
func (c Commands) ListFiles() executor.CommandSpec {
	return executor.CommandSpec{Path: "ls", Args: []string{"-a"}}
}

// ShellRun returns the wrapper script invocation for the given user text,
// which is split into arguments following POSIX shell quoting rules.
func (c Commands) ShellRun(text string) (executor.CommandSpec, error) {
	userArgs, err := shellquote.Split(text)
	if err != nil {
		return executor.CommandSpec{}, fmt.Errorf("splitting arguments: %w", err)
	}
	args := append([]string{"-c", c.Script, scriptName}, userArgs...)
	return executor.CommandSpec{Path: c.shell(), Args: args}, nil
}
