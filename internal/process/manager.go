package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	defaultRestartDelay    = 2 * time.Second
	defaultMaxRestartDelay = time.Minute
	defaultStableThreshold = 2 * time.Minute
	defaultGracefulTimeout = 5 * time.Second
)

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// RestartOnFailure enables automatic restart when the process exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the first wait before a restart. Consecutive
	// failures double it up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a process must run before its restart
	// delay and attempt count are reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// Stdout consumes the standard output of each process run. It is called
	// on its own goroutine and must return once r reaches EOF. If nil,
	// output lines are logged at debug level.
	Stdout func(r io.Reader)

	// OnStart is called when the process starts successfully.
	OnStart func()

	// OnStop is called when a process run ends, with nil after a requested stop.
	OnStop func(err error)
}

// DefaultConfig returns a Config for a long-running helper that is
// restarted whenever it exits.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:             name,
		Binary:           binary,
		Args:             args,
		RestartOnFailure: true,
		RestartDelay:     defaultRestartDelay,
		MaxRestartDelay:  defaultMaxRestartDelay,
		StableThreshold:  defaultStableThreshold,
		GracefulTimeout:  defaultGracefulTimeout,
	}
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises one subprocess: it starts it, restarts it with an
// exponential delay when it exits unexpectedly, and stops it with
// SIGTERM then SIGKILL.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	output        sync.WaitGroup

	stop chan struct{}
	done chan struct{}
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the subprocess and begins monitoring it.
// It fails if the first launch fails; later restarts are handled by the
// monitor goroutine until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)
	return nil
}

// Done is closed when the monitor gives up or the process is stopped.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from daemon config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStartFailed, m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	// cmd.Wait closes the pipes, so readers must finish first.
	m.output.Add(2)
	go func() {
		defer m.output.Done()
		if m.config.Stdout != nil {
			m.config.Stdout(stdout)
			io.Copy(io.Discard, stdout) //nolint:errcheck // drain after consumer returns
			return
		}
		m.logLines("stdout", stdout)
	}()
	go func() {
		defer m.output.Done()
		m.logLines("stderr", stderr)
	}()

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)
	if m.config.OnStart != nil {
		m.config.OnStart()
	}
	return nil
}

func (m *Manager) logLines(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m.logger.Debug("process output", "name", m.config.Name, "stream", stream, "line", sc.Text())
	}
}

func (m *Manager) wait(cmd *exec.Cmd) error {
	m.output.Wait()
	return cmd.Wait()
}

// monitor waits for each run to end and restarts it with backoff.
func (m *Manager) monitor(ctx context.Context) {
	defer func() {
		m.mu.RLock()
		done := m.done
		m.mu.RUnlock()
		close(done)
	}()

	m.mu.RLock()
	stop := m.stop
	m.mu.RUnlock()

	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = m.config.RestartDelay
	delays.MaxInterval = m.config.MaxRestartDelay
	delays.Multiplier = 2
	delays.RandomizationFactor = 0
	delays.Reset()

	for {
		m.mu.RLock()
		cmd := m.cmd
		started := m.startTime
		m.mu.RUnlock()

		err := m.wait(cmd)

		m.mu.Lock()
		stopRequested := m.stopRequested
		m.mu.Unlock()

		if stopRequested || ctx.Err() != nil {
			m.logger.Info("process stopped", "name", m.config.Name)
			m.mu.Lock()
			m.status = StatusStopped
			m.mu.Unlock()
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		if err == nil {
			err = ErrUnexpectedExit
		}
		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err)

		m.mu.Lock()
		m.lastError = err
		m.status = StatusFailed
		if time.Since(started) >= m.config.StableThreshold {
			m.restartCount = 0
			delays.Reset()
		}
		m.mu.Unlock()

		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}
		if !m.config.RestartOnFailure {
			return
		}

		for {
			m.mu.Lock()
			m.restartCount++
			attempt := m.restartCount
			m.mu.Unlock()

			if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
				m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
				return
			}

			delay := delays.NextBackOff()
			m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				m.setStatus(StatusStopped)
				return
			case <-stop:
				timer.Stop()
				m.setStatus(StatusStopped)
				return
			case <-timer.C:
			}

			if err := m.startProcess(ctx); err != nil {
				m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
				m.mu.Lock()
				m.lastError = err
				m.mu.Unlock()
				continue
			}
			break
		}
	}
}

// Stop terminates the process group with SIGTERM, escalating to SIGKILL
// after GracefulTimeout, and waits for the monitor to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.stopRequested && m.stop != nil {
		close(m.stop)
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	timer := time.NewTimer(m.config.GracefulTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", m.config.Name)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LastError returns the error that ended the most recent run.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the consecutive restart count.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Stats summarises the managed process for the health endpoint.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
