package process

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a process is running.
	ErrAlreadyRunning = errors.New("process: already running")

	// ErrStartFailed wraps exec start failures such as a missing binary.
	ErrStartFailed = errors.New("process: start failed")

	// ErrUnexpectedExit records a clean exit that nobody asked for.
	ErrUnexpectedExit = errors.New("process: exited unexpectedly")
)
