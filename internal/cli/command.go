package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/utkarsh5026/seqpool/internal/sink"
)

const placeholder = "{}"

// ErrNoCommand is returned when nothing follows the flags.
var ErrNoCommand = errors.New("no command given")

// buildArgv substitutes line for every {} in args, or appends it when no
// argument carries the placeholder.
func buildArgv(args []string, line string) []string {
	argv := make([]string, 0, len(args)+1)
	substituted := false

	for _, a := range args {
		if strings.Contains(a, placeholder) {
			a = strings.ReplaceAll(a, placeholder, line)
			substituted = true
		}
		argv = append(argv, a)
	}

	if !substituted {
		argv = append(argv, line)
	}
	return argv
}

// commandTask runs args once for line and captures its stdout.
func commandTask(args []string) func(ctx context.Context, line string) (sink.Record, error) {
	return func(ctx context.Context, line string) (sink.Record, error) {
		argv := buildArgv(args, line)

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		cmd.WaitDelay = time.Second

		start := time.Now()
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return sink.Record{}, ctx.Err()
			}
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return sink.Record{}, fmt.Errorf("%s on %q: %w: %s", argv[0], line, err, msg)
			}
			return sink.Record{}, fmt.Errorf("%s on %q: %w", argv[0], line, err)
		}

		return sink.Record{
			Input:   line,
			Output:  stdout.String(),
			Elapsed: time.Since(start),
		}, nil
	}
}
