// Package command runs the user-configured day and night commands.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrEmpty is returned by Parse for a blank command line.
var ErrEmpty = errors.New("empty command")

// Command is a program and its arguments.
type Command struct {
	Name string
	Args []string
}

// Parse splits line on whitespace. Quoting is not interpreted.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrEmpty
	}
	return Command{Name: fields[0], Args: fields[1:]}, nil
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// DefaultWaitDelay bounds how long Run waits for output once the command
// has exited, e.g. when it left a background child holding stdout.
const DefaultWaitDelay = 2 * time.Second

// maxLine is the longest output line logged in one piece.
const maxLine = 4096

// Runner executes commands, forwarding their output to the logger.
type Runner struct {
	logger    *log.Logger
	dryRun    bool
	waitDelay time.Duration
}

func NewRunner(logger *log.Logger, dryRun bool) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{logger: logger, dryRun: dryRun, waitDelay: DefaultWaitDelay}
}

// Run starts c and waits for it to exit. A non-zero exit status is an
// error.
func (r *Runner) Run(ctx context.Context, c Command) error {
	if r.dryRun {
		r.logger.Info("dry-run: skipping command", "cmd", c.String())
		return nil
	}

	stdout := &lineWriter{logger: r.logger, stream: "stdout"}
	stderr := &lineWriter{logger: r.logger, stream: "stderr"}
	defer stdout.Flush()
	defer stderr.Flush()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.waitDelay

	r.logger.Debug("running command", "cmd", c.String())
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("can't execute command %q: %w", c.String(), err)
	}

	err := cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		r.logger.Debug("command exited with its output still open", "cmd", c.String())
		return nil
	}
	if err != nil {
		return fmt.Errorf("command %q failed: %w", c.String(), err)
	}
	return nil
}

// lineWriter logs every complete line written to it. Lines longer than
// maxLine are logged in pieces. exec may still be copying into it when
// Wait gives up after WaitDelay.
type lineWriter struct {
	logger *log.Logger
	stream string

	mu  sync.Mutex
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buf = append(w.buf, p...)
			for len(w.buf) >= maxLine {
				w.log(w.buf[:maxLine])
				w.buf = w.buf[maxLine:]
			}
			break
		}
		w.buf = append(w.buf, p[:i]...)
		w.log(w.buf)
		w.buf = w.buf[:0]
		p = p[i+1:]
	}
	return n, nil
}

// Flush logs any partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.log(w.buf)
		w.buf = w.buf[:0]
	}
}

func (w *lineWriter) log(line []byte) {
	w.logger.Info(strings.TrimSuffix(string(line), "\r"), "stream", w.stream)
}
