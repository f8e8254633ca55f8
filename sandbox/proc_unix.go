//go:build unix

package sandbox

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcessGroup places the child in its own process group so the
// whole tree can be signalled at once.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// processGroupID returns the group a started child leads. With Setpgid the
// group id is the leader's pid; it is recorded at start because Getpgid
// fails once the leader has been reaped.
func processGroupID(cmd *exec.Cmd) int {
	if cmd.Process == nil {
		return 0
	}
	return cmd.Process.Pid
}

// terminateJob sends SIGTERM to the job's process group.
func terminateJob(j *Job) error {
	return signalGroup(j.pgid, unix.SIGTERM)
}

// killJob sends SIGKILL to the job's process group. It also clears
// processes left in the group after the leader exited.
func killJob(j *Job) error {
	return signalGroup(j.pgid, unix.SIGKILL)
}

func signalGroup(pgid int, sig unix.Signal) error {
	// kill(0) would signal our own group.
	if pgid <= 0 {
		return nil
	}
	err := unix.Kill(-pgid, sig)
	if err == unix.ESRCH {
		return nil
	}
	return err
}
