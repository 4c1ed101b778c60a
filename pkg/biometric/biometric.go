// Package biometric is the narrow interface to the platform's biometric
// subsystem: is there hardware, is anyone enrolled, and did the prompt
// succeed. The rest of the program only sees these three answers.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var ErrNoCommand = errors.New("biometric: no helper command configured")

// Capability is implemented by Unavailable, Static and Command.
type Capability interface {
	HasHardware(ctx context.Context) (bool, error)
	IsEnrolled(ctx context.Context) (bool, error)
	// Authenticate shows prompt and reports whether the user passed.
	Authenticate(ctx context.Context, prompt string) (bool, error)
}

// Available reports whether c has hardware and an enrolled user. Errors
// from the capability count as unavailable and are returned for logging.
func Available(ctx context.Context, c Capability) (bool, error) {
	if c == nil {
		return false, nil
	}
	hw, err := c.HasHardware(ctx)
	if err != nil || !hw {
		return false, err
	}
	return c.IsEnrolled(ctx)
}

// Unavailable is a device without biometric hardware.
type Unavailable struct{}

func (Unavailable) HasHardware(context.Context) (bool, error)          { return false, nil }
func (Unavailable) IsEnrolled(context.Context) (bool, error)           { return false, nil }
func (Unavailable) Authenticate(context.Context, string) (bool, error) { return false, nil }

// Static answers with fixed values and counts prompts. It stands in for
// real hardware in tests and for headless runs.
type Static struct {
	Hardware bool
	Enrolled bool
	Succeed  bool
	Err      error

	mu      sync.Mutex
	prompts int
}

func (s *Static) HasHardware(context.Context) (bool, error) { return s.Hardware, s.Err }
func (s *Static) IsEnrolled(context.Context) (bool, error)  { return s.Enrolled, s.Err }

func (s *Static) Authenticate(context.Context, string) (bool, error) {
	s.mu.Lock()
	s.prompts++
	s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	return s.Hardware && s.Enrolled && s.Succeed, nil
}

// Prompts returns how many times Authenticate was called.
func (s *Static) Prompts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts
}

// Command delegates to an external helper program, invoked as
//
//	<command> [args...] has-hardware
//	<command> [args...] is-enrolled
//	<command> [args...] authenticate <prompt>
//
// Exit status 0 means yes, 1 means no; anything else is an error.
type Command struct {
	Path string
	Args []string
	// Timeout bounds one helper call. Zero leaves only ctx in charge.
	Timeout time.Duration
	Logger  *slog.Logger
}

// ParseCommand splits a configured command line on whitespace.
func ParseCommand(line string) (*Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ErrNoCommand
	}
	return &Command{
		Path:   fields[0],
		Args:   fields[1:],
		Logger: slog.Default().With("component", "biometric"),
	}, nil
}

func (c *Command) HasHardware(ctx context.Context) (bool, error) {
	return c.run(ctx, "has-hardware")
}

func (c *Command) IsEnrolled(ctx context.Context) (bool, error) {
	return c.run(ctx, "is-enrolled")
}

func (c *Command) Authenticate(ctx context.Context, prompt string) (bool, error) {
	return c.run(ctx, "authenticate", prompt)
}

func (c *Command) run(ctx context.Context, args ...string) (bool, error) {
	if c.Path == "" {
		return false, ErrNoCommand
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	argv := append(append([]string{}, c.Args...), args...)
	cmd := exec.CommandContext(ctx, c.Path, argv...)
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return false, nil
	default:
		if c.Logger != nil {
			c.Logger.Debug("biometric helper failed", "op", args[0], "error", err, "output", strings.TrimSpace(string(out)))
		}
		return false, fmt.Errorf("biometric: %s: %w", args[0], err)
	}
}
