//go:build unix

package plugin

import (
	"os/exec"
	"syscall"
)

// isolate puts the plugin in its own process group so a timeout reaches the
// test processes it spawned, not just the entrypoint.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to the plugin's whole process group.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		// Already reaped; fall back to the pid, which was the group leader.
		pgid = cmd.Process.Pid
	}
	if err := syscall.Kill(-pgid, sig); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}
