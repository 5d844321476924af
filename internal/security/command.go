package security

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrToolUnavailable is returned when a scanner's executable cannot be found.
var ErrToolUnavailable = errors.New("security tool is not installed")

// CommandResult is the captured outcome of a subprocess.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// CommandRunner executes an external tool. A non-zero exit status is reported in
// CommandResult.ExitCode, not as an error.
type CommandRunner func(ctx context.Context, workingDirectory string, executable string, arguments ...string) (CommandResult, error)

// ExecCommandRunner runs executables found on PATH.
func ExecCommandRunner(ctx context.Context, workingDirectory string, executable string, arguments ...string) (CommandResult, error) {
	resolvedPath, lookupError := exec.LookPath(executable)
	if lookupError != nil {
		return CommandResult{}, fmt.Errorf("%w: %s", ErrToolUnavailable, executable)
	}
	// #nosec G204
	command := exec.CommandContext(ctx, resolvedPath, arguments...)
	command.Dir = workingDirectory
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	runError := command.Run()
	result := CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitError *exec.ExitError
	if errors.As(runError, &exitError) {
		result.ExitCode = exitError.ExitCode()
		return result, nil
	}
	if runError != nil {
		return result, runError
	}
	return result, nil
}
