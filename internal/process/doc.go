// Package process supervises long-running helper processes.
//
// projectorctld uses it to run "udevadm monitor" and stream its property
// blocks to the udev discovery source. The Manager restarts the helper
// when it exits, doubling the wait between attempts up to a cap, and
// resets the schedule once a run has stayed up for StableThreshold.
//
// Example usage:
//
//	cfg := process.DefaultConfig("udevadm", "/usr/bin/udevadm",
//	    []string{"monitor", "--udev", "--subsystem-match=tty", "--property"})
//	cfg.Stdout = func(r io.Reader) { parseUdev(ctx, r, out) }
//	mgr := process.NewManager(cfg)
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
