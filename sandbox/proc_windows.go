//go:build windows

package sandbox

import (
	"errors"
	"os"
	"os/exec"
)

// Windows has no process groups in the POSIX sense; jobs are terminated
// directly.
func configureProcessGroup(cmd *exec.Cmd) {}

func processGroupID(cmd *exec.Cmd) int {
	if cmd.Process == nil {
		return 0
	}
	return cmd.Process.Pid
}

func terminateJob(j *Job) error {
	return killJob(j)
}

func killJob(j *Job) error {
	err := j.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
