// Package tmux wraps the tmux invocations autopilot needs to hand prompts to
// an executor running in an existing tmux session.
//
// Every command is issued against an explicit server socket (tmux -L). The
// default socket is tmux's own, so a session the operator started by hand
// is reachable without extra configuration.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultSocket is tmux's default server socket name.
const DefaultSocket = "default"

// Runner executes one tmux command against socket.
type Runner func(ctx context.Context, socket string, args ...string) error

// CommandContextWithSocket creates a context-aware exec.Cmd for tmux on the
// given socket. An empty socket means DefaultSocket.
func CommandContextWithSocket(ctx context.Context, socket string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "tmux", CommandArgsWithSocket(socket, args...)...)
}

// CommandArgsWithSocket returns tmux arguments with the socket selection
// prepended.
func CommandArgsWithSocket(socket string, args ...string) []string {
	return append(BaseArgsWithSocket(socket), args...)
}

// BaseArgsWithSocket returns the socket arguments [-L, socket].
func BaseArgsWithSocket(socket string) []string {
	if socket == "" {
		socket = DefaultSocket
	}
	return []string{"-L", socket}
}

// Exec runs tmux and folds its stderr into the returned error.
func Exec(ctx context.Context, socket string, args ...string) error {
	cmd := CommandContextWithSocket(ctx, socket, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("tmux %s: %w", args[0], err)
		}
		return fmt.Errorf("tmux %s: %s: %w", args[0], msg, err)
	}
	return nil
}

// ErrNoSession is returned when the target session does not exist.
var ErrNoSession = errors.New("tmux session not found")

// Client issues tmux commands for one session on one socket.
type Client struct {
	Socket  string
	Session string
	// Run executes commands; nil means Exec.
	Run Runner
}

func (c Client) run(ctx context.Context, args ...string) error {
	run := c.Run
	if run == nil {
		run = Exec
	}
	return run(ctx, c.Socket, args...)
}

// HasSession reports whether the session exists.
func (c Client) HasSession(ctx context.Context) error {
	if err := c.run(ctx, "has-session", "-t", c.Session); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNoSession, c.Session, err)
	}
	return nil
}

// SendText types text into the session's active pane literally, then
// presses Enter.
func (c Client) SendText(ctx context.Context, text string) error {
	if err := c.run(ctx, "send-keys", "-t", c.Session, "-l", text); err != nil {
		return err
	}
	return c.run(ctx, "send-keys", "-t", c.Session, "Enter")
}
