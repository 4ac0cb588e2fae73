package services

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"portpilot/internal/config"
	"portpilot/internal/models"
	"portpilot/internal/sshcmd"
	"portpilot/internal/store"
)

// writeFakeSSH 生成一个顶替ssh的shell脚本，测试不依赖真实的ssh客户端
func writeFakeSSH(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test requires a unix shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ssh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write fake ssh: %v", err)
	}
	return path
}

func testConfig(t *testing.T, sshPath string) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	return &config.AppConfig{
		Log: config.LogConfig{Level: "info", Path: filepath.Join(dir, "portpilot.log")},
		SSH: config.SSHConfig{
			Binary:      sshPath,
			GracePeriod: time.Second,
		},
		LogHub:   config.LogHubConfig{Capacity: 100},
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "portpilot.db")},
	}
}

func seedTunnel(t *testing.T, s *store.Store, background bool) *models.Tunnel {
	t.Helper()
	host := &models.Host{
		Name:     "staging",
		Hostname: "bastion.example.com",
		Port:     22,
		Username: "deploy",
	}
	if err := s.CreateHost(host); err != nil {
		t.Fatalf("failed to seed host: %v", err)
	}
	tunnel := &models.Tunnel{
		HostID:     host.ID,
		Name:       "pg",
		Type:       models.TunnelLocal,
		LocalPort:  15432,
		RemoteHost: "db.internal",
		RemotePort: 5432,
		Background: background,
	}
	if err := s.CreateTunnel(tunnel); err != nil {
		t.Fatalf("failed to seed tunnel: %v", err)
	}
	return tunnel
}

func newTestInstance(t *testing.T, sshBody string, background bool) (*TunnelInstance, *store.Store) {
	t.Helper()
	cfg := testConfig(t, writeFakeSSH(t, sshBody))
	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	def := seedTunnel(t, s, background)
	return newTunnelInstance(def, s, cfg, nil), s
}

func waitState(t *testing.T, ti *TunnelInstance, want models.TunnelState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ti.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("tunnel never reached state %s, stuck at %s", want, ti.State())
}

func TestStartThenStop(t *testing.T) {
	ti, s := newTestInstance(t, "sleep 30", false)

	if err := ti.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if ti.State() != models.StateRunning {
		t.Fatalf("expected running after start, got %s", ti.State())
	}

	run, err := s.LatestRun(ti.ID())
	if err != nil || run == nil {
		t.Fatalf("expected a run record, got %+v (%v)", run, err)
	}
	if run.Pid == 0 {
		t.Error("run record should carry the ssh PID")
	}
	if run.Mode != models.RunModeManaged {
		t.Errorf("foreground tunnel run mode = %s, want managed", run.Mode)
	}

	if err := ti.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if ti.State() != models.StateStopped {
		t.Errorf("expected stopped after stop, got %s", ti.State())
	}

	run, _ = s.LatestRun(ti.ID())
	if run.StoppedAt == nil {
		t.Error("run record should be closed after stop")
	}
}

func TestCleanExitGoesStopped(t *testing.T) {
	ti, _ := newTestInstance(t, "exit 0", false)

	if err := ti.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitState(t, ti, models.StateStopped)
	if ti.LastError() != "" {
		t.Errorf("clean exit must not record an error, got: %s", ti.LastError())
	}
}

func TestUnexpectedExitGoesFailed(t *testing.T) {
	ti, s := newTestInstance(t, "echo 'connection refused' >&2; exit 255", false)

	if err := ti.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitState(t, ti, models.StateFailed)

	if ti.LastError() == "" {
		t.Error("unexpected exit should record a failure reason")
	}

	run, _ := s.LatestRun(ti.ID())
	if run.ExitCode == nil || *run.ExitCode != 255 {
		t.Errorf("run record should carry exit code 255, got %v", run.ExitCode)
	}
	if run.LastError == "" {
		t.Error("run record should carry the failure reason")
	}

	// stderr输出要进集线器
	found := false
	for _, l := range ti.Hub().Snapshot() {
		if l.Stream == models.StreamStderr && l.Text == "connection refused" {
			found = true
		}
	}
	if !found {
		t.Error("stderr output should land in the log hub")
	}
}

func TestStartIdempotentWhileRunning(t *testing.T) {
	ti, s := newTestInstance(t, "sleep 30", false)

	if err := ti.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := ti.Start(); err != nil {
		t.Errorf("second start should be a no-op, got: %v", err)
	}

	runs, _ := s.ListRuns(ti.ID(), 0)
	if len(runs) != 1 {
		t.Errorf("expected exactly one run record, got %d", len(runs))
	}
	ti.Stop()
}

// 秒退的进程，退出通知可能赶在启动流程收尾之前到达，
// 不论时序如何最终必须是Failed，运行记录必须闭合
func TestImmediateExitAlwaysEndsFailed(t *testing.T) {
	ti, s := newTestInstance(t, "exit 255", false)

	const rounds = 10
	for i := 0; i < rounds; i++ {
		if err := ti.Start(); err != nil {
			t.Fatalf("Start round %d failed: %v", i, err)
		}
		waitState(t, ti, models.StateFailed)
		if ti.LastError() == "" {
			t.Fatalf("round %d: failure reason should be recorded", i)
		}
	}

	// FinishRun在状态转换之后落库，给它一点时间
	deadline := time.Now().Add(5 * time.Second)
	for {
		runs, _ := s.ListRuns(ti.ID(), 0)
		open := 0
		for _, r := range runs {
			if r.StoppedAt == nil {
				open++
			}
		}
		if len(runs) == rounds && open == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d closed run records, got %d with %d still open", rounds, len(runs), open)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// 同一条Stopped隧道被并发start，只允许产生一个进程和一条运行记录
func TestConcurrentStartsSpawnOneProcess(t *testing.T) {
	ti, s := newTestInstance(t, "sleep 30", false)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ti.Start()
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent start %d returned error: %v", i, err)
		}
	}
	if ti.State() != models.StateRunning {
		t.Fatalf("expected running after concurrent starts, got %s", ti.State())
	}

	runs, _ := s.ListRuns(ti.ID(), 0)
	if len(runs) != 1 {
		t.Fatalf("expected exactly one run record, got %d", len(runs))
	}
	if runs[0].Pid == 0 {
		t.Error("run record should carry the ssh PID")
	}
	ti.Stop()
}

// Detail/State在gin处理器和monitor里随时被并发调用，restart换定义指针时不能踩到
func TestDetailConcurrentWithRestart(t *testing.T) {
	ti, _ := newTestInstance(t, "sleep 30", false)
	if err := ti.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				d := ti.Detail()
				if d.Tunnel.ID != ti.ID() {
					t.Errorf("detail returned wrong tunnel %d", d.Tunnel.ID)
					return
				}
				_ = ti.State()
			}
		}
	}()

	for i := 0; i < 3; i++ {
		if err := ti.Restart(); err != nil {
			t.Fatalf("Restart %d failed: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
	ti.Stop()
}

func TestStopIdempotentWhileStopped(t *testing.T) {
	ti, _ := newTestInstance(t, "sleep 30", false)
	if err := ti.Stop(); err != nil {
		t.Errorf("stop on a stopped tunnel should be a no-op, got: %v", err)
	}
	if ti.State() != models.StateStopped {
		t.Errorf("state should stay stopped, got %s", ti.State())
	}
}

func TestRestartCreatesNewRun(t *testing.T) {
	ti, s := newTestInstance(t, "sleep 30", false)

	if err := ti.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	firstPid := 0
	if run, _ := s.LatestRun(ti.ID()); run != nil {
		firstPid = run.Pid
	}

	if err := ti.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if ti.State() != models.StateRunning {
		t.Fatalf("expected running after restart, got %s", ti.State())
	}

	runs, _ := s.ListRuns(ti.ID(), 0)
	if len(runs) != 2 {
		t.Fatalf("expected two run records after restart, got %d", len(runs))
	}
	if run, _ := s.LatestRun(ti.ID()); run.Pid == firstPid {
		t.Error("restart should spawn a new process")
	}
	ti.Stop()
}

func TestRestartFromFailed(t *testing.T) {
	ti, _ := newTestInstance(t, "sleep 30", false)

	// 人为制造Failed
	ti.stateMutex.Lock()
	ti.state = models.StateFailed
	ti.lastError = "boom"
	ti.stateMutex.Unlock()

	if err := ti.Restart(); err != nil {
		t.Fatalf("Restart from failed should start, got: %v", err)
	}
	if ti.State() != models.StateRunning {
		t.Errorf("expected running, got %s", ti.State())
	}
	if ti.LastError() != "" {
		t.Errorf("successful start should clear the last error, got: %s", ti.LastError())
	}
	ti.Stop()
}

func TestInvalidDefinitionFailsStart(t *testing.T) {
	ti, s := newTestInstance(t, "sleep 30", false)

	// 把定义改坏：dynamic隧道不允许远端端点
	def, _ := s.GetTunnel(ti.ID())
	def.Type = models.TunnelDynamic
	if err := s.UpdateTunnel(def); err != nil {
		t.Fatalf("UpdateTunnel failed: %v", err)
	}

	err := ti.Start()
	if !errors.Is(err, sshcmd.ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got: %v", err)
	}
	if ti.State() != models.StateFailed {
		t.Errorf("expected failed after invalid definition, got %s", ti.State())
	}

	// 同步失败不留运行记录
	runs, _ := s.ListRuns(ti.ID(), 0)
	if len(runs) != 0 {
		t.Errorf("synchronous failure must not create run records, got %d", len(runs))
	}
}

func TestMissingBinaryFailsStart(t *testing.T) {
	ti, _ := newTestInstance(t, "sleep 30", false)
	ti.cfg.SSH.Binary = "/nonexistent/path/to/ssh"

	err := ti.Start()
	if !errors.Is(err, sshcmd.ErrSSHNotFound) {
		t.Fatalf("expected ErrSSHNotFound, got: %v", err)
	}
	if ti.State() != models.StateFailed {
		t.Errorf("expected failed, got %s", ti.State())
	}
}

func TestStateEventsInOrder(t *testing.T) {
	cfg := testConfig(t, writeFakeSSH(t, "exit 0"))
	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	def := seedTunnel(t, s, false)

	var mu sync.Mutex
	var events []models.StateEvent
	done := make(chan struct{})
	ti := newTunnelInstance(def, s, cfg, func(ev models.StateEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		if ev.NewState == models.StateStopped {
			close(done)
		}
	})

	if err := ti.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stop event")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []models.TunnelState{models.StateStarting, models.StateRunning, models.StateStopped}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, ev := range events {
		if ev.NewState != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.NewState, want[i])
		}
	}
}

func TestForceKillStillEndsStopped(t *testing.T) {
	// 循环短睡：shell被SIGKILL后残留的sleep子进程很快退出，管道及时到EOF
	ti, _ := newTestInstance(t, `trap "" TERM; while :; do sleep 1; done`, false)
	ti.cfg.SSH.GracePeriod = 300 * time.Millisecond

	if err := ti.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// 给shell一点时间装好trap
	time.Sleep(200 * time.Millisecond)

	if err := ti.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if ti.State() != models.StateStopped {
		t.Errorf("force-killed tunnel must still end stopped, got %s", ti.State())
	}
}

func TestRunLogWrittenToDisk(t *testing.T) {
	ti, s := newTestInstance(t, "echo hello-tunnel; exit 0", false)

	if err := ti.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitState(t, ti, models.StateStopped)

	run, _ := s.LatestRun(ti.ID())
	if run.LogPath == "" {
		t.Fatal("run record should carry the log file path")
	}
	data, err := os.ReadFile(run.LogPath)
	if err != nil {
		t.Fatalf("failed to read run log: %v", err)
	}
	if !strings.Contains(string(data), "hello-tunnel") {
		t.Errorf("run log should contain process output, got:\n%s", data)
	}
}

// 本地端口已被占用时要在日志流里留下诊断
func TestBusyLocalPortLeavesDiagnostic(t *testing.T) {
	ti, s := newTestInstance(t, "exit 0", false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to occupy a port: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	def, _ := s.GetTunnel(ti.ID())
	def.LocalPort = port
	if err := s.UpdateTunnel(def); err != nil {
		t.Fatalf("UpdateTunnel failed: %v", err)
	}

	if err := ti.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitState(t, ti, models.StateStopped)

	found := false
	for _, l := range ti.Hub().Snapshot() {
		if l.Stream == models.StreamSystem && strings.Contains(l.Text, "already in use") {
			found = true
		}
	}
	if !found {
		t.Error("busy local port should leave a diagnostic line in the log hub")
	}
}
