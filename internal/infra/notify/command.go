package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"
)

// Command runs a local command for every alert, e.g. an audio alarm. It is
// a best-effort side channel: failures are logged at debug level and never
// reported to the caller.
type Command struct {
	line string
	goos string
	run  func(ctx context.Context, name string, args ...string) error
	log  *slog.Logger
}

// NewCommand creates the command backend. An empty line selects the
// text-to-speech fallback of the running OS.
func NewCommand(line string) *Command {
	return &Command{
		line: line,
		goos: runtime.GOOS,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
		log: slog.Default().With("component", "notify", "backend", "command"),
	}
}

func (c *Command) Name() string { return "command" }

// Send runs the command. The message itself is not passed on.
func (c *Command) Send(ctx context.Context, message string) error {
	name, args := c.invocation()
	if err := c.run(ctx, name, args...); err != nil {
		c.log.Debug("Alert command failed", "error", err)
	}
	return nil
}

func (c *Command) invocation() (string, []string) {
	line := c.line
	if line == "" {
		line = fallbackCommand(c.goos)
	}
	if c.goos == "windows" {
		return "cmd", []string{"/C", line}
	}
	return "sh", []string{"-c", line}
}

func fallbackCommand(goos string) string {
	switch goos {
	case "windows":
		return `PowerShell -Command "Add-Type -AssemblyName System.Speech; (New-Object System.Speech.Synthesis.SpeechSynthesizer).Speak('ALARM ALARM ALARM');"`
	case "darwin":
		return `say "ALARM ALARM ALARM"`
	default:
		return `echo "ALARM ALARM ALARM"|espeak`
	}
}
