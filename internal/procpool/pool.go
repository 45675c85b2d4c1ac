// SPDX-License-Identifier: MIT

// Package procpool manages the bounded pool of ffmpeg/ffprobe children.
// Admission is a hard ceiling per class: over-limit spawns fail immediately
// with SERVER_BUSY instead of queueing.
package procpool

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/metrics"
	"github.com/capso/media-server/internal/procgroup"
)

// Class identifies a subprocess admission class.
type Class string

const (
	// ClassAudio covers general ffmpeg audio work (checks and extracts).
	ClassAudio Class = "audio"
	// ClassProbe covers ffprobe invocations.
	ClassProbe Class = "probe"
	// ClassEncode covers long-running video encode jobs.
	ClassEncode Class = "encode"
)

const (
	killGrace   = 3 * time.Second
	killTimeout = 10 * time.Second
)

// Limits holds the per-class ceilings.
type Limits struct {
	Audio  int
	Probe  int
	Encode int
}

// Pool tracks active children per class and enforces the ceilings.
type Pool struct {
	mu     sync.Mutex
	limits map[Class]int
	active map[Class]int
}

// New creates a pool with the given ceilings.
func New(l Limits) *Pool {
	return &Pool{
		limits: map[Class]int{
			ClassAudio:  l.Audio,
			ClassProbe:  l.Probe,
			ClassEncode: l.Encode,
		},
		active: make(map[Class]int),
	}
}

// CanAccept reports whether a new child of the given class would be admitted.
func (p *Pool) CanAccept(class Class) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[class] < p.limits[class]
}

// Active returns the number of running children of the given class.
func (p *Pool) Active(class Class) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[class]
}

func (p *Pool) acquire(class Class) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[class] >= p.limits[class] {
		metrics.SubprocessRejections.WithLabelValues(string(class)).Inc()
		return mediaerr.New(mediaerr.KindServerBusy,
			fmt.Sprintf("%s pool at capacity (%d)", class, p.limits[class]))
	}
	p.active[class]++
	metrics.ActiveSubprocesses.WithLabelValues(string(class)).Set(float64(p.active[class]))
	return nil
}

func (p *Pool) release(class Class) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[class] > 0 {
		p.active[class]--
	}
	metrics.ActiveSubprocesses.WithLabelValues(string(class)).Set(float64(p.active[class]))
}

// SpawnOpts controls pipe setup and supervision for a spawn.
type SpawnOpts struct {
	Class Class

	// Stdin opens a writable stdin pipe (canvas pipeline stages need one).
	Stdin bool

	// Timeout arms the absolute watchdog; zero disables it.
	Timeout time.Duration
}

// Process is an exclusively owned subprocess handle. The caller must consume
// or drain both streams and observe Done (or Wait) exactly once.
type Process struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser
	Stdin  io.WriteCloser

	pool  *Pool
	class Class
	cmd   *exec.Cmd

	done     chan struct{}
	exitErr  error
	exitCode int

	killOnce sync.Once
	timedOut bool
	mu       sync.Mutex
}

// Spawn starts a child under the class ceiling. The counter is incremented on
// success and decremented exactly once when the child exits, however it exits.
func (p *Pool) Spawn(ctx context.Context, bin string, args []string, opts SpawnOpts) (*Process, error) {
	if err := p.acquire(opts.Class); err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, args...)
	procgroup.Set(cmd)

	proc := &Process{
		pool:  p,
		class: opts.Class,
		cmd:   cmd,
		done:  make(chan struct{}),
	}

	var err error
	if proc.Stdout, err = cmd.StdoutPipe(); err != nil {
		p.release(opts.Class)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if proc.Stderr, err = cmd.StderrPipe(); err != nil {
		p.release(opts.Class)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if opts.Stdin {
		if proc.Stdin, err = cmd.StdinPipe(); err != nil {
			p.release(opts.Class)
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		p.release(opts.Class)
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}
	metrics.SubprocessSpawns.WithLabelValues(string(opts.Class)).Inc()

	logger := log.WithComponent("procpool")
	logger.Debug().
		Str("class", string(opts.Class)).
		Str("bin", bin).
		Int("pid", cmd.Process.Pid).
		Msg("spawned subprocess")

	// Reaper: the only place the counter is released.
	go func() {
		err := cmd.Wait()
		proc.mu.Lock()
		proc.exitErr = err
		proc.exitCode = -1
		if cmd.ProcessState != nil {
			proc.exitCode = cmd.ProcessState.ExitCode()
		}
		proc.mu.Unlock()
		p.release(opts.Class)
		close(proc.done)
	}()

	// Supervisor: absolute timeout and context cancellation both converge on
	// a group kill.
	go func() {
		var timeoutC <-chan time.Time
		if opts.Timeout > 0 {
			timer := time.NewTimer(opts.Timeout)
			defer timer.Stop()
			timeoutC = timer.C
		}
		select {
		case <-proc.done:
		case <-ctx.Done():
			proc.Kill()
		case <-timeoutC:
			proc.mu.Lock()
			proc.timedOut = true
			proc.mu.Unlock()
			metrics.SubprocessTimeouts.WithLabelValues(string(opts.Class)).Inc()
			logger := log.WithComponent("procpool")
			logger.Warn().
				Str("class", string(opts.Class)).
				Dur("timeout", opts.Timeout).
				Int("pid", cmd.Process.Pid).
				Msg("absolute watchdog fired, killing subprocess")
			proc.Kill()
		}
	}()

	return proc, nil
}

// Done is closed once the child has exited and the pool slot is released.
func (proc *Process) Done() <-chan struct{} { return proc.done }

// Wait blocks until exit or ctx cancellation and returns the exit code.
func (proc *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-proc.done:
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return proc.exitCode, proc.exitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// ExitCode returns the recorded exit code, valid once Done is closed.
func (proc *Process) ExitCode() int {
	proc.mu.Lock()
	defer proc.mu.Unlock()
	return proc.exitCode
}

// TimedOut reports whether the absolute watchdog killed the child.
func (proc *Process) TimedOut() bool {
	proc.mu.Lock()
	defer proc.mu.Unlock()
	return proc.timedOut
}

// Pid returns the child's pid.
func (proc *Process) Pid() int {
	if proc.cmd.Process == nil {
		return 0
	}
	return proc.cmd.Process.Pid
}

// Kill terminates the child's process group. Errors are swallowed because the
// OS may already have reaped the child.
func (proc *Process) Kill() {
	proc.killOnce.Do(func() {
		if proc.cmd.Process == nil {
			return
		}
		if err := procgroup.KillGroup(proc.cmd.Process.Pid, killGrace, killTimeout); err != nil {
			logger := log.WithComponent("procpool")
			logger.Debug().
				Err(err).
				Int("pid", proc.cmd.Process.Pid).
				Msg("kill returned error (process likely already gone)")
		}
	})
}
