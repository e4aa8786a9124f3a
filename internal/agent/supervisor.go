package agent

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/k9dev/scout-agent/internal/logsink"
)

// ErrSupervisorNotRunning is returned by Stop when no loader process was
// ever started.
var ErrSupervisorNotRunning = errors.New("agent: no loader process running")

// Supervisor owns the eBPF loader subprocess: it spawns it with piped,
// line-buffered stdout/stderr, forwards each line to a Sink, and handles
// shutdown via SIGINT with a hard-kill fallback.
type Supervisor struct {
	sink logsink.Sink
	cmd  *exec.Cmd
	done chan struct{}
}

// NewSupervisor returns a Supervisor that forwards loader stdio to sink.
func NewSupervisor(sink logsink.Sink) *Supervisor {
	return &Supervisor{sink: sink}
}

// Start launches path with its stdout and stderr piped to the sink, one
// reader goroutine per stream. It returns once the process has been
// spawned, not once it has exited.
func (s *Supervisor) Start(path string) error {
	cmd := exec.Command(path)
	cmd.Dir = filepath.Dir(path)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("agent: loader stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("agent: loader stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("agent: start loader %s: %w", path, err)
	}

	s.cmd = cmd
	s.done = make(chan struct{})

	go s.forward(stdout, logsink.SeverityInfo)
	go s.forward(stderr, logsink.SeverityWarn)
	go func() {
		_ = cmd.Wait()
		close(s.done)
	}()

	return nil
}

func (s *Supervisor) forward(r io.Reader, severity logsink.Severity) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.sink.Log(severity, scanner.Text())
	}
}

// Stop sends SIGINT to the loader process and falls back to a hard kill if
// that fails, logging the outcome either way.
func (s *Supervisor) Stop() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return ErrSupervisorNotRunning
	}
	if s.cmd.ProcessState != nil {
		return nil
	}

	pid := s.cmd.Process.Pid
	if err := unix.Kill(pid, unix.SIGINT); err != nil {
		s.sink.Log(logsink.SeverityWarn, "SIGINT to loader failed, killing directly",
			"pid", pid, "error", err.Error())
		if killErr := s.cmd.Process.Kill(); killErr != nil {
			s.sink.Log(logsink.SeverityError, "failed to kill loader process",
				"pid", pid, "error", killErr.Error())
			return killErr
		}
		return nil
	}

	s.sink.Log(logsink.SeverityInfo, "sent SIGINT to loader process", "pid", pid)
	return nil
}

// Wait blocks until the loader process has exited. It is a no-op if Start
// was never called.
func (s *Supervisor) Wait() {
	if s.done == nil {
		return
	}
	<-s.done
}
