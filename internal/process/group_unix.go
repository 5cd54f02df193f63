//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// shellCommand runs command through shell as the leader of a fresh process
// group whose id equals the leader's pid.
func shellCommand(shell, command, dir string) *exec.Cmd {
	cmd := exec.Command(shell, "-c", command)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// killGroup sends SIGKILL to every member of process group pgid. A group
// with no members left is not an error.
func killGroup(pgid int) error {
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

func groupOf(pid int) (int, bool) {
	pgid, err := syscall.Getpgid(pid)
	return pgid, err == nil
}
