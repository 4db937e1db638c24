package extractor

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/iconidentify/mediagrab/internal/metrics"
)

// Process is a running extractor in streamed mode.
type Process struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	tail       *tailBuffer
	stderrDone chan struct{}
	started    time.Time
	logger     *slog.Logger

	waitOnce sync.Once
	exitCode int
	waitErr  error
}

// Read reads from the extractor's stdout.
func (p *Process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Kill terminates the extractor and anything it spawned.
func (p *Process) Kill() error {
	return killProcessGroup(p.cmd)
}

// Diagnostics returns the most recent stderr lines.
func (p *Process) Diagnostics() string {
	return p.tail.String()
}

// Wait waits for stderr to drain and the process to exit, then returns its
// exit code. Later calls return the first result.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		<-p.stderrDone
		err := p.cmd.Wait()
		p.exitCode = p.cmd.ProcessState.ExitCode()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.waitErr = err
		}
		metrics.ActiveProcesses.Dec()
		metrics.ProcessDuration.WithLabelValues("streamed").Observe(time.Since(p.started).Seconds())
	})
	return p.exitCode, p.waitErr
}

func (p *Process) drainStderr(r io.Reader) {
	defer close(p.stderrDone)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	scanner.Split(scanProgressLines)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		p.tail.Add(string(line))
		p.logger.Warn("extractor stderr", "line", string(line))
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("stderr scan stopped", "error", err)
		// Keep the pipe empty so the child cannot stall on it.
		io.Copy(io.Discard, r)
	}
}

// scanProgressLines splits on \n and on the bare \r the extractor uses to
// redraw progress lines.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == t.max {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.max-1]
	}
	t.lines = append(t.lines, line)
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b bytes.Buffer
	for i, l := range t.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l)
	}
	return b.String()
}
