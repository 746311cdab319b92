// Package runner supervises agent child processes: one process per task
// repo, spawned through the shell in the repo's working copy, with
// line-oriented output capture and cooperative termination.
package runner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/tidwall/gjson"
)

// Result describes how a child process ended. ExitCode is -1 when the
// process died from a signal; Signal then carries the signal name.
type Result struct {
	ExitCode int
	Signal   string
}

// OutputFunc receives one line of child output. Stream is "stdout" or
// "stderr". Tag is the "type" field when the line is a JSON object,
// empty otherwise.
type OutputFunc func(stream, line, tag string)

// Options configure a spawned process.
type Options struct {
	// Command is run via the shell, so pipelines and quoting work.
	Command string
	// WorkDir is the working directory, normally the repo's working copy.
	WorkDir string
	// Env entries (KEY=VALUE) appended to the parent environment.
	Env []string
	// Prompt is written to the child's stdin after start. Stdin stays
	// open for SendInput until the caller closes or the process exits.
	Prompt string
	// OnOutput is invoked from reader goroutines, one call per line.
	OnOutput OutputFunc
	// OnExit is invoked exactly once after the process and both output
	// readers have finished.
	OnExit func(Result)
}

// Process is a running child under supervision.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu       sync.Mutex
	stdinErr error
	closed   bool

	done chan struct{}
}

// Start spawns the command and begins streaming its output. The child
// is placed in its own process group so termination reaches any
// grandchildren it spawns.
func Start(opts Options) (*Process, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("empty command")
	}

	cmd := shellCommand(opts.Command)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), opts.Env...)
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", opts.Command, err)
	}

	p := &Process{
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan struct{}),
	}

	if opts.Prompt != "" {
		// The child may never read stdin; a write failure here must not
		// take down the supervisor.
		go func() {
			if _, err := io.WriteString(stdin, opts.Prompt+"\n"); err != nil {
				p.mu.Lock()
				p.stdinErr = err
				p.mu.Unlock()
			}
		}()
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.readLines(&readers, "stdout", stdout, opts.OnOutput)
	go p.readLines(&readers, "stderr", stderr, opts.OnOutput)

	go func() {
		readers.Wait()
		err := cmd.Wait()
		res := resultFrom(cmd, err)
		close(p.done)
		if opts.OnExit != nil {
			opts.OnExit(res)
		}
	}()

	return p, nil
}

// readLines delivers child output line by line. Lines that are JSON
// objects get tagged with their "type" field so structured agent output
// can be distinguished from plain text downstream.
func (p *Process) readLines(wg *sync.WaitGroup, stream string, r io.Reader, fn OutputFunc) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if fn == nil {
			continue
		}
		tag := ""
		if len(line) > 0 && line[0] == '{' && gjson.Valid(line) {
			tag = gjson.Get(line, "type").String()
		}
		fn(stream, line, tag)
	}
	if err := scanner.Err(); err != nil {
		// A line over the buffer cap aborts the scan; the rest of the
		// pipe must still be drained or the child blocks on write and
		// never exits
		if fn != nil {
			fn(stream, "output dropped: "+err.Error(), "")
		}
		_, _ = io.Copy(io.Discard, r)
	}
}

// PID returns the child's process id, or 0 before start.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// SendInput writes a line to the child's stdin.
func (p *Process) SendInput(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("stdin closed")
	}
	if _, err := io.WriteString(p.stdin, text+"\n"); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// CloseInput closes the child's stdin. Idempotent.
func (p *Process) CloseInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.stdin.Close()
}

// Terminate asks the child's process group to shut down with SIGTERM.
// Termination is cooperative: a child that ignores the signal keeps
// running and its exit is reported whenever it finally happens.
func (p *Process) Terminate() error {
	pid := p.PID()
	if pid <= 0 {
		return nil
	}
	return terminateGroup(pid)
}

// Done is closed once the process has exited and output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}
