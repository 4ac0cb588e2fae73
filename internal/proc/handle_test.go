package proc

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"portpilot/internal/models"
)

func requireUnixShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test requires a unix shell")
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	h := NewHandle("missing", "definitely-not-a-real-binary-xyz", nil, false)
	err := h.Spawn()
	if !errors.Is(err, ErrBinaryNotFound) {
		t.Errorf("expected ErrBinaryNotFound, got: %v", err)
	}
}

func TestSpawnTwiceRejected(t *testing.T) {
	requireUnixShell(t)

	h := NewHandle("true", "sh", []string{"-c", "exit 0"}, false)
	done := make(chan int, 1)
	h.OnExit(func(code int) { done <- code })
	if err := h.Spawn(); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := h.Spawn(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got: %v", err)
	}
	<-done
}

func TestExitCodeReported(t *testing.T) {
	requireUnixShell(t)

	h := NewHandle("exit3", "sh", []string{"-c", "exit 3"}, false)
	done := make(chan int, 1)
	h.OnExit(func(code int) { done <- code })

	if err := h.Spawn(); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	select {
	case code := <-done:
		if code != 3 {
			t.Errorf("expected exit code 3, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit notification")
	}
}

func TestOutputDrainedBeforeExit(t *testing.T) {
	requireUnixShell(t)

	h := NewHandle("chatty", "sh",
		[]string{"-c", "echo out1; echo err1 >&2; echo out2; exit 0"}, false)

	var mu sync.Mutex
	var lines []string
	exited := make(chan struct{})

	h.OnLine(func(stream models.LogStream, text string) {
		mu.Lock()
		lines = append(lines, string(stream)+":"+text)
		mu.Unlock()
	})
	h.OnExit(func(code int) {
		mu.Lock()
		n := len(lines)
		mu.Unlock()
		if n != 3 {
			t.Errorf("expected 3 lines drained before exit, got %d", n)
		}
		close(exited)
	})

	if err := h.Spawn(); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit notification")
	}

	mu.Lock()
	defer mu.Unlock()
	found := map[string]bool{}
	for _, l := range lines {
		found[l] = true
	}
	if !found["stdout:out1"] || !found["stderr:err1"] || !found["stdout:out2"] {
		t.Errorf("missing expected output lines, got: %v", lines)
	}
}

func TestTerminateGraceful(t *testing.T) {
	requireUnixShell(t)

	h := NewHandle("sleeper", "sh", []string{"-c", "sleep 30"}, false)
	h.OnExit(func(code int) {})
	if err := h.Spawn(); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	forced, err := h.Terminate(3 * time.Second)
	if err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if forced {
		t.Error("sh should exit on SIGTERM without force kill")
	}
}

func TestTerminateForceKill(t *testing.T) {
	requireUnixShell(t)

	// 循环短睡：SIGKILL之后残留的sleep子进程很快退出，管道及时到EOF
	h := NewHandle("stubborn", "sh", []string{"-c", `trap "" TERM; while :; do sleep 1; done`}, false)
	h.OnExit(func(code int) {})
	if err := h.Spawn(); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	// 给shell一点时间装好trap
	time.Sleep(200 * time.Millisecond)

	forced, err := h.Terminate(500 * time.Millisecond)
	if err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if !forced {
		t.Error("expected force kill for a process ignoring SIGTERM")
	}
}

func TestTerminateAfterExitIsNoop(t *testing.T) {
	requireUnixShell(t)

	h := NewHandle("quick", "sh", []string{"-c", "exit 0"}, false)
	done := make(chan int, 1)
	h.OnExit(func(code int) { done <- code })
	if err := h.Spawn(); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	<-done

	forced, err := h.Terminate(time.Second)
	if err != nil {
		t.Errorf("Terminate on exited process should be a no-op, got: %v", err)
	}
	if forced {
		t.Error("Terminate on exited process should not report force kill")
	}
}

func TestDetachSuppressesExitNotification(t *testing.T) {
	requireUnixShell(t)

	h := NewHandle("detachee", "sh", []string{"-c", "sleep 0.3"}, true)
	notified := make(chan int, 1)
	h.OnExit(func(code int) { notified <- code })
	if err := h.Spawn(); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	pid := h.Detach()
	if pid == 0 {
		t.Fatal("Detach should return the live PID")
	}

	select {
	case <-notified:
		t.Error("detached handle must not report exit")
	case <-time.After(time.Second):
	}
}
