package process

import (
	"os/exec"
	"testing"
)

func TestIsAlive_Self(t *testing.T) {
	if !IsAlive(Self()) {
		t.Error("current process should be alive")
	}
}

func TestIsAlive_InvalidPID(t *testing.T) {
	for _, pid := range []int{0, -1} {
		if IsAlive(pid) {
			t.Errorf("IsAlive(%d) should be false", pid)
		}
	}
}

func TestIsAlive_ExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("cannot run 'true': %v", err)
	}
	// The child has been reaped by Run, so its pid no longer refers to it.
	if IsAlive(cmd.Process.Pid) {
		t.Skip("pid was reused by another process")
	}
}
