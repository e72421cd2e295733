// Package azcli runs the Azure CLI as a child process. Only the exit code and the
// JSON written to stdout are part of the contract.
package azcli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	sdaferrors "github.com/sapautomation/sdaf-setup/internal/errors"
)

// exitCommandNotFound is the shell convention for a missing executable
const exitCommandNotFound = 127

// Runner executes az with the given arguments and returns stdout
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// CommandError is returned when az exits non-zero
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no error output"
	}
	return fmt.Sprintf("az %s failed with exit code %d: %s", strings.Join(e.Args, " "), e.ExitCode, msg)
}

// DecodeError is returned when az exits zero but stdout is not the expected JSON
type DecodeError struct {
	Args   []string
	Output string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode output of az %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ExecRunner runs the az binary found on PATH
type ExecRunner struct {
	path string
}

// NewExecRunner locates az (az.cmd on Windows). A missing binary returns ErrToolNotFound.
func NewExecRunner() (*ExecRunner, error) {
	name := "az"
	if runtime.GOOS == "windows" {
		name = "az.cmd"
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sdaferrors.ErrToolNotFound, err)
	}

	return &ExecRunner{path: path}, nil
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Strs("args", args).Msg("Running az")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run az: %w", err)
		}
		if exitErr.ExitCode() == exitCommandNotFound {
			return nil, fmt.Errorf("%w: %s", sdaferrors.ErrToolNotFound, strings.TrimSpace(stderr.String()))
		}
		return nil, &CommandError{
			Args:     args,
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderr.String(),
		}
	}

	return stdout.Bytes(), nil
}

// RunJSON runs az and decodes stdout into v
func RunJSON(ctx context.Context, r Runner, v any, args ...string) error {
	out, err := r.Run(ctx, args...)
	if err != nil {
		return err
	}
	return Decode(args, out, v)
}

// RunText runs az and returns stdout with surrounding whitespace removed
func RunText(ctx context.Context, r Runner, args ...string) (string, error) {
	out, err := r.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Decode unmarshals az output, wrapping failures in DecodeError
func Decode(args []string, out []byte, v any) error {
	if err := json.Unmarshal(out, v); err != nil {
		return &DecodeError{Args: args, Output: string(out), Err: err}
	}
	return nil
}
