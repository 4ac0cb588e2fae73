package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"portpilot/internal/config"
	"portpilot/internal/logger"
	"portpilot/internal/models"
	"portpilot/internal/proc"
	"portpilot/internal/sshcmd"
	"portpilot/internal/store"
	"portpilot/internal/utils"
)

/**
 * TunnelInstance 单条隧道的运行时实例和状态机
 * @property {*models.Tunnel} def - 隧道定义，每次启动前从库里刷新
 * @property {models.TunnelState} state - 当前状态
 * @property {*proc.Handle} handle - 正在运行的ssh进程句柄，停止后为nil
 * @property {*LogHub} hub - 本隧道的日志集线器
 * @description
 * - opMutex串行化start/stop/restart，并发操作排队而不交错
 * - stateMutex保护状态字段，退出回调和操作协程都会触碰
 * - 状态转换全部经过setState，事件按发生顺序发出
 */
type TunnelInstance struct {
	def *models.Tunnel
	hub *LogHub

	store *store.Store
	cfg   *config.AppConfig
	emit  func(models.StateEvent)

	opMutex         sync.Mutex
	stateMutex      sync.Mutex
	state           models.TunnelState
	handle          *proc.Handle
	runID           int64
	stopping        bool // 本次退出是否由stop触发
	forceBackground bool // CLI本地模式：无论定义如何都按后台隧道拉起
	lastError       string

	logMutex sync.Mutex
	logFile  *os.File
}

func newTunnelInstance(def *models.Tunnel, st *store.Store, cfg *config.AppConfig,
	emit func(models.StateEvent)) *TunnelInstance {
	return &TunnelInstance{
		def:   def,
		hub:   NewLogHub(cfg.LogHub.Capacity),
		store: st,
		cfg:   cfg,
		emit:  emit,
		state: models.StateStopped,
	}
}

// definition 当前定义快照，start会在两次运行之间替换指针，读取必须加锁
func (ti *TunnelInstance) definition() *models.Tunnel {
	ti.stateMutex.Lock()
	defer ti.stateMutex.Unlock()
	return ti.def
}

// titleLocked 调用方必须持有stateMutex
func (ti *TunnelInstance) titleLocked() string {
	return fmt.Sprintf("tunnel-%d(%s)", ti.def.ID, ti.def.Name)
}

func (ti *TunnelInstance) title() string {
	ti.stateMutex.Lock()
	defer ti.stateMutex.Unlock()
	return ti.titleLocked()
}

func (ti *TunnelInstance) ID() int64 {
	return ti.definition().ID
}

func (ti *TunnelInstance) Hub() *LogHub {
	return ti.hub
}

// State 当前状态
func (ti *TunnelInstance) State() models.TunnelState {
	ti.stateMutex.Lock()
	defer ti.stateMutex.Unlock()
	return ti.state
}

// LastError 最近一次失败原因，成功启动后清空
func (ti *TunnelInstance) LastError() string {
	ti.stateMutex.Lock()
	defer ti.stateMutex.Unlock()
	return ti.lastError
}

// Detail 隧道定义加运行时状态和最近一次运行记录
func (ti *TunnelInstance) Detail() models.TunnelDetail {
	ti.stateMutex.Lock()
	def := *ti.def
	state := ti.state
	lastError := ti.lastError
	ti.stateMutex.Unlock()

	run, err := ti.store.LatestRun(def.ID)
	if err != nil {
		logger.Warnf("Failed to load latest run of tunnel-%d(%s): %v", def.ID, def.Name, err)
	}
	return models.TunnelDetail{
		Tunnel:    def,
		State:     state,
		LastError: lastError,
		Run:       run,
	}
}

// setStateLocked 转换状态并发出事件，调用方必须持有stateMutex
func (ti *TunnelInstance) setStateLocked(next models.TunnelState, reason string) {
	old := ti.state
	if old == next {
		return
	}
	ti.state = next
	logger.Infof("Tunnel %s: %s -> %s (%s)", ti.titleLocked(), old, next, reason)
	if ti.emit != nil {
		ti.emit(models.StateEvent{
			TunnelID: ti.def.ID,
			OldState: old,
			NewState: next,
			Reason:   reason,
			Time:     time.Now(),
		})
	}
}

/**
 * Start 启动隧道
 * @returns {error} 定义非法、找不到ssh或进程启动失败时返回错误
 * @description
 * - Starting/Running/Stopping状态下是幂等空操作，不报错
 * - 同步失败（定义校验、ssh缺失、启动失败）直接进入Failed
 * - 成功拉起进程即进入Running，不做端口可用性探测
 */
func (ti *TunnelInstance) Start() error {
	ti.opMutex.Lock()
	defer ti.opMutex.Unlock()
	return ti.start()
}

func (ti *TunnelInstance) start() error {
	ti.stateMutex.Lock()
	if ti.state != models.StateStopped && ti.state != models.StateFailed {
		state := ti.state
		ti.stateMutex.Unlock()
		logger.Infof("Tunnel %s already %s, start ignored", ti.title(), state)
		return nil
	}
	ti.setStateLocked(models.StateStarting, "start requested")
	defID := ti.def.ID
	ti.stateMutex.Unlock()

	// 定义可能在两次启动之间被修改过
	def, err := ti.store.GetTunnel(defID)
	if err != nil {
		return ti.failStart("definition vanished", err)
	}
	ti.stateMutex.Lock()
	ti.def = def
	ti.stateMutex.Unlock()

	host, err := ti.store.GetHost(def.HostID)
	if err != nil {
		return ti.failStart("host vanished", err)
	}

	args, err := sshcmd.BuildArgs(host, def)
	if err != nil {
		return ti.failStart("invalid definition", err)
	}
	sshPath, err := sshcmd.FindSSH(ti.cfg.SSH.Binary)
	if err != nil {
		return ti.failStart("ssh not found", err)
	}

	background := def.Background || ti.forceBackground
	logPath := ti.openRunLog(def.ID)

	// 本地端口已被占用时提前留一行诊断，ssh多半绑不上
	if def.Type != models.TunnelRemote && !utils.CheckPortAvailable(def.LocalPort) {
		ti.systemLine(fmt.Sprintf("local port %d is already in use, ssh may fail to bind", def.LocalPort))
	}

	handle := proc.NewHandle(fmt.Sprintf("tunnel-%d(%s)", def.ID, def.Name), sshPath, args, background)
	handle.OnLine(ti.consumeLine)
	// 退出通知要等启动流程提交完Running才放行，否则立刻退出的进程
	// 会赶在handle/runID记录之前把状态改掉，再被Running覆盖回去
	committed := make(chan struct{})
	handle.OnExit(func(code int) {
		<-committed
		ti.onExit(code)
	})

	if err := handle.Spawn(); err != nil {
		close(committed)
		ti.closeRunLog()
		return ti.failStart("spawn failed", err)
	}

	mode := models.RunModeManaged
	if background {
		mode = models.RunModeDetached
	}
	run := &models.TunnelRun{
		TunnelID: def.ID,
		Pid:      handle.Pid(),
		Mode:     mode,
		LogPath:  logPath,
	}
	if err := ti.store.CreateRun(run); err != nil {
		logger.Warnf("Failed to record run of tunnel-%d(%s): %v", def.ID, def.Name, err)
	}

	ti.stateMutex.Lock()
	ti.handle = handle
	ti.runID = run.ID
	ti.stopping = false
	ti.lastError = ""
	ti.setStateLocked(models.StateRunning, "process spawned")
	ti.stateMutex.Unlock()
	close(committed)
	return nil
}

// failStart 同步启动失败统一进入Failed
func (ti *TunnelInstance) failStart(reason string, err error) error {
	ti.stateMutex.Lock()
	ti.lastError = err.Error()
	ti.setStateLocked(models.StateFailed, reason)
	ti.stateMutex.Unlock()
	ti.systemLine(fmt.Sprintf("start failed: %v", err))
	return err
}

/**
 * Stop 停止隧道
 * @returns {error} 信号发送失败时返回错误
 * @description
 * - Stopped/Failed状态下是幂等空操作
 * - 先SIGTERM，宽限时间内没退出再SIGKILL；强杀只记日志，最终状态仍是Stopped
 * - 返回时进程已退出且状态已是最终态
 */
func (ti *TunnelInstance) Stop() error {
	ti.opMutex.Lock()
	defer ti.opMutex.Unlock()
	return ti.stop()
}

func (ti *TunnelInstance) stop() error {
	ti.stateMutex.Lock()
	if ti.state != models.StateRunning || ti.handle == nil {
		state := ti.state
		ti.stateMutex.Unlock()
		logger.Infof("Tunnel %s is %s, stop ignored", ti.title(), state)
		return nil
	}
	ti.stopping = true
	handle := ti.handle
	ti.setStateLocked(models.StateStopping, "stop requested")
	ti.stateMutex.Unlock()

	forced, err := handle.Terminate(ti.cfg.SSH.GracePeriod)
	if forced {
		// 诊断信息，不影响最终状态
		ti.systemLine(fmt.Sprintf("process did not exit within %v, force killed", ti.cfg.SSH.GracePeriod))
	}
	if err != nil {
		logger.Errorf("Failed to terminate %s: %v", ti.title(), err)
		return err
	}
	return nil
}

// Restart 先停后起，两步在同一把操作锁下完成
func (ti *TunnelInstance) Restart() error {
	ti.opMutex.Lock()
	defer ti.opMutex.Unlock()

	if err := ti.stop(); err != nil {
		return err
	}
	return ti.start()
}

/**
 * onExit 进程退出回调，决定最终状态
 * @param {int} code - 退出码，取不到时为proc.ExitUnknown
 * @description
 * - 退出码0一律进入Stopped，即使没人请求过停止
 * - 停止流程中的非零退出码也是Stopped，SIGTERM杀死的进程本来就不会返回0
 * - 其余情况是意外退出，进入Failed并记下原因
 */
func (ti *TunnelInstance) onExit(code int) {
	ti.stateMutex.Lock()
	stopping := ti.stopping
	runID := ti.runID
	ti.handle = nil
	ti.stopping = false

	reason := ""
	if code == 0 || stopping {
		if stopping {
			reason = "stopped by user"
		} else {
			reason = "process exited cleanly"
		}
		ti.setStateLocked(models.StateStopped, reason)
	} else {
		reason = fmt.Sprintf("process exited unexpectedly with code %d", code)
		ti.lastError = reason
		ti.setStateLocked(models.StateFailed, reason)
	}
	ti.stateMutex.Unlock()

	ti.systemLine(reason)
	ti.closeRunLog()

	if runID != 0 {
		var exitCode *int
		if code != proc.ExitUnknown {
			exitCode = &code
		}
		lastError := ""
		if !stopping && code != 0 {
			lastError = reason
		}
		if err := ti.store.FinishRun(runID, exitCode, lastError); err != nil {
			logger.Warnf("Failed to finish run %d of %s: %v", runID, ti.title(), err)
		}
	}
}

/**
 * DetachForShutdown 守护进程退出时放走后台隧道
 * @returns {int} 被放走的进程PID，不适用时为0
 * @description
 * - 只有Background定义且正在运行的隧道会被放走
 * - 运行记录保持打开，PID留在库里供下次启动或手工清理
 */
func (ti *TunnelInstance) DetachForShutdown() int {
	ti.opMutex.Lock()
	defer ti.opMutex.Unlock()

	ti.stateMutex.Lock()
	if ti.state != models.StateRunning || ti.handle == nil || !ti.def.Background {
		ti.stateMutex.Unlock()
		return 0
	}
	handle := ti.handle
	ti.handle = nil
	ti.stateMutex.Unlock()

	pid := handle.Detach()
	ti.closeRunLog()
	return pid
}

/**
 * StartDetached 没有守护进程时的启动方式：拉起后立即脱管
 * @returns {int} 脱管进程的PID
 * @returns {error} 启动失败时返回错误
 * @description
 * - CLI本地模式使用，进程放进独立进程组，CLI退出后继续转发
 * - 运行记录以detached模式保持打开，守护进程下次启动时认领
 */
func (ti *TunnelInstance) StartDetached() (int, error) {
	ti.opMutex.Lock()
	defer ti.opMutex.Unlock()

	ti.forceBackground = true
	defer func() { ti.forceBackground = false }()

	if err := ti.start(); err != nil {
		return 0, err
	}

	ti.stateMutex.Lock()
	handle := ti.handle
	ti.handle = nil
	ti.stateMutex.Unlock()

	pid := 0
	if handle != nil {
		pid = handle.Detach()
	}
	ti.closeRunLog()
	return pid, nil
}

// consumeLine 进程输出逐行进入集线器和落盘日志
func (ti *TunnelInstance) consumeLine(stream models.LogStream, text string) {
	line := models.LogLine{
		TunnelID: ti.definition().ID,
		Stream:   stream,
		Time:     time.Now(),
		Text:     text,
	}
	ti.hub.Append(line)
	ti.writeRunLog(line)
}

// systemLine portpilot自身产生的说明行，和进程输出走同一条日志流
func (ti *TunnelInstance) systemLine(text string) {
	ti.consumeLine(models.StreamSystem, text)
}

/*
 * 落盘日志：每次运行一个文件
 */

func (ti *TunnelInstance) openRunLog(tunnelID int64) string {
	dir := filepath.Join(ti.cfg.Log.Dir(), "tunnels")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warnf("Failed to create tunnel log directory: %v", err)
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("tunnel_%d_%s.log",
		tunnelID, time.Now().Format("20060102_150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Warnf("Failed to open run log '%s': %v", path, err)
		return ""
	}
	ti.logMutex.Lock()
	ti.logFile = f
	ti.logMutex.Unlock()
	return path
}

func (ti *TunnelInstance) writeRunLog(line models.LogLine) {
	ti.logMutex.Lock()
	defer ti.logMutex.Unlock()
	if ti.logFile == nil {
		return
	}
	fmt.Fprintf(ti.logFile, "%s [%s] %s\n",
		line.Time.Format(time.RFC3339), line.Stream, line.Text)
}

func (ti *TunnelInstance) closeRunLog() {
	ti.logMutex.Lock()
	defer ti.logMutex.Unlock()
	if ti.logFile != nil {
		ti.logFile.Close()
		ti.logFile = nil
	}
}
