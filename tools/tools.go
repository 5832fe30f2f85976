// Package tools runs the external executables that do the heavy lifting:
// the aligner, samtools, and bedtools.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"
)

var (
	// ErrNotFound is returned when a required executable is not on PATH.
	ErrNotFound = errors.New("required tool not found")
	// ErrFailed is returned when an executable exits non-zero or cannot be started.
	ErrFailed = errors.New("external tool failed")
)

// how long a cancelled step may hold its output streams after its process group is signalled
const waitDelay = 5 * time.Second

// Tool is an external executable resolved on PATH.
type Tool string

const (
	Bowtie2Build Tool = "bowtie2-build"
	Bowtie2      Tool = "bowtie2"
	Samtools     Tool = "samtools"
	Bedtools     Tool = "bedtools"
)

// Require checks that every tool can be found on PATH. All missing tools are
// named in the returned error.
func Require(required ...Tool) error {
	var missing []string
	for _, t := range required {
		if _, err := exec.LookPath(string(t)); err != nil && !slices.Contains(missing, string(t)) {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, strings.Join(missing, ", "))
	}
	return nil
}

// Step is a single invocation of a tool.
type Step struct {
	Tool  Tool
	Args  []string
	Stdin io.Reader
	// Stdout receives the standard output. Nil discards it unless the step
	// is the source of a Stream.
	Stdout io.Writer
	// Stderr additionally receives the diagnostic stream when non-nil.
	Stderr io.Writer
	// Quiet discards the diagnostic stream entirely.
	Quiet bool
}

// Result is the outcome of a finished Step.
type Result struct {
	Tool     Tool
	Args     []string
	ExitCode int
	Stderr   []byte // tail of the diagnostic stream, empty if Quiet
}

// ExitError reports a Step that did not exit cleanly.
type ExitError struct {
	Result Result
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Result.Tool, e.Result.ExitCode)
	if e.Result.ExitCode < 0 && e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Result.Tool, e.Err)
	}
	if line := lastLine(e.Result.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

func (e *ExitError) Unwrap() []error {
	return []error{ErrFailed, e.Err}
}

// String renders the step as a shell-like command line for logging.
func (s Step) String() string {
	return strings.Join(append([]string{string(s.Tool)}, s.Args...), " ")
}

// Run executes the step and waits for it to complete.
func Run(ctx context.Context, s Step) (Result, error) {
	p := s.prepare(ctx)
	if err := p.cmd.Start(); err != nil {
		return p.result(err)
	}
	return p.result(p.cmd.Wait())
}

// Stream runs src with its standard output copied to the standard input of
// every sink, so intermediate alignments never touch disk. All processes are
// awaited; the first failure is returned.
func Stream(ctx context.Context, src Step, sinks ...Step) ([]Result, error) {
	procs := make([]*proc, len(sinks))
	writers := make([]io.Writer, 0, len(sinks)+1)
	readers := make([]*os.File, len(sinks))
	pipes := make([]*os.File, len(sinks))

	closeAll := func(files []*os.File) {
		for _, f := range files {
			if f != nil {
				f.Close()
			}
		}
	}

	for i := range sinks {
		pr, pw, err := os.Pipe()
		if err != nil {
			closeAll(readers)
			closeAll(pipes)
			return nil, fmt.Errorf("creating pipe for %s: %w", sinks[i].Tool, err)
		}
		readers[i], pipes[i] = pr, pw
		sinks[i].Stdin = pr
		procs[i] = sinks[i].prepare(ctx)
		writers = append(writers, pw)
	}
	if src.Stdout != nil {
		writers = append(writers, src.Stdout)
	}
	src.Stdout = io.MultiWriter(writers...)
	source := src.prepare(ctx)

	results := make([]Result, 0, len(sinks)+1)
	var firstErr error
	record := func(r Result, err error) {
		results = append(results, r)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	started := make([]bool, len(sinks))
	for i, p := range procs {
		if err := p.cmd.Start(); err != nil {
			record(p.result(err))
			continue
		}
		started[i] = true
	}
	// children hold their own copies of the read ends
	closeAll(readers)

	if firstErr == nil {
		if err := source.cmd.Start(); err != nil {
			record(source.result(err))
		} else {
			record(source.result(source.cmd.Wait()))
		}
	}
	closeAll(pipes)

	for i, p := range procs {
		if started[i] {
			record(p.result(p.cmd.Wait()))
		}
	}
	return results, firstErr
}

type proc struct {
	step   Step
	cmd    *exec.Cmd
	stderr *tailBuffer
}

// prepare builds the command for s. Each step runs in its own process group
// and cancelling ctx sends SIGTERM to the whole group.
func (s Step) prepare(ctx context.Context) *proc {
	p := &proc{step: s, cmd: exec.CommandContext(ctx, string(s.Tool), s.Args...)}
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	p.cmd.Cancel = func() error {
		err := unix.Kill(-p.cmd.Process.Pid, unix.SIGTERM)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	p.cmd.WaitDelay = waitDelay
	p.cmd.Stdin = s.Stdin
	p.cmd.Stdout = s.Stdout
	if !s.Quiet {
		p.stderr = &tailBuffer{max: 4096}
		if s.Stderr != nil {
			p.cmd.Stderr = io.MultiWriter(p.stderr, s.Stderr)
		} else {
			p.cmd.Stderr = p.stderr
		}
	}
	return p
}

func (p *proc) result(err error) (Result, error) {
	r := Result{Tool: p.step.Tool, Args: p.step.Args}
	if p.stderr != nil {
		r.Stderr = p.stderr.Bytes()
	}
	if err == nil {
		return r, nil
	}
	r.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.ExitCode = exitErr.ExitCode()
	}
	return r, &ExitError{Result: r, Err: err}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	n, _ := t.buf.Write(b)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) Bytes() []byte {
	return append([]byte(nil), t.buf.Bytes()...)
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
