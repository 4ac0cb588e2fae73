package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"portpilot/internal/logger"
	"portpilot/internal/models"
	"portpilot/internal/utils"
)

var (
	// ErrBinaryNotFound 可执行文件不存在或不在PATH里
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrAlreadyStarted 同一个句柄只允许Spawn一次
	ErrAlreadyStarted = errors.New("process already started")
)

// ExitUnknown 无法取得退出码时的占位值（例如被信号杀死）
const ExitUnknown = -1

/**
 * Handle 单个子进程的生命周期句柄
 * @property {string} title - 显示用的名字，日志里标识进程
 * @property {string} command - 可执行文件路径
 * @property {[]string} args - 命令参数
 * @property {bool} background - 是否放入独立进程组，父进程退出后继续运行
 * @property {func} onLine - 每行stdout/stderr输出的回调
 * @property {func} onExit - 进程退出的回调，保证只调用一次
 * @description
 * - 一次性对象：Spawn一次，退出后重建新句柄
 * - onExit在输出管道全部排干之后才触发，不会丢日志行
 */
type Handle struct {
	title      string
	command    string
	args       []string
	background bool
	onLine     func(stream models.LogStream, text string)
	onExit     func(code int)

	mutex    sync.Mutex
	cmd      *exec.Cmd
	started  bool
	detached bool
	done     chan struct{} // 进程退出后关闭
}

func NewHandle(title, command string, args []string, background bool) *Handle {
	return &Handle{
		title:      title,
		command:    command,
		args:       args,
		background: background,
		done:       make(chan struct{}),
	}
}

// OnLine 注册输出行回调，必须在Spawn之前调用
func (h *Handle) OnLine(fn func(stream models.LogStream, text string)) {
	h.onLine = fn
}

// OnExit 注册退出回调，必须在Spawn之前调用
func (h *Handle) OnExit(fn func(code int)) {
	h.onExit = fn
}

func (h *Handle) Pid() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done 返回进程退出时关闭的通道
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

/**
 * Spawn 启动子进程并挂上输出排干和退出监视协程
 * @returns {error} ErrBinaryNotFound当可执行文件缺失，其他错误表示启动失败
 * @description
 * - stdout/stderr各由一个协程逐行读取并投递给onLine
 * - 监视协程等两个读协程结束后再Wait，确保退出通知晚于最后一行日志
 * - background句柄放入新进程组，守护进程退出后隧道继续存活
 */
func (h *Handle) Spawn() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.started {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(h.command, h.args...)
	if h.background {
		// 独立进程组，detach之后不随守护进程退出
		utils.SetNewPG(cmd)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	logger.Infof("Executing command: %s %v", h.command, h.args)
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrBinaryNotFound, h.command)
		}
		return fmt.Errorf("failed to start '%s': %w", h.title, err)
	}

	h.cmd = cmd
	h.started = true
	logger.Infof("Process '%s' started (PID: %d)", h.title, cmd.Process.Pid)

	var drained sync.WaitGroup
	drained.Add(2)
	go h.drainPipe(stdout, models.StreamStdout, &drained)
	go h.drainPipe(stderr, models.StreamStderr, &drained)
	go h.waitProcess(&drained)
	return nil
}

// drainPipe 逐行读取管道输出，管道关闭后结束
func (h *Handle) drainPipe(r io.Reader, stream models.LogStream, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		if h.onLine != nil {
			h.onLine(stream, scanner.Text())
		}
	}
}

/**
 * waitProcess 等待进程退出并发出唯一一次退出通知
 * @description
 * - 先等输出管道排干，再Wait回收子进程
 * - 被信号杀死等取不到退出码的情况上报ExitUnknown
 * - detach过的句柄不再上报退出
 */
func (h *Handle) waitProcess(drained *sync.WaitGroup) {
	drained.Wait()
	err := h.cmd.Wait()

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = ExitUnknown
		}
	}

	h.mutex.Lock()
	detached := h.detached
	pid := 0
	if h.cmd.Process != nil {
		pid = h.cmd.Process.Pid
	}
	h.mutex.Unlock()

	// 先通知再关闭done，Terminate返回时状态已经是最终态
	if !detached {
		logger.Infof("Process '%s' (PID: %d) exited with code %d", h.title, pid, code)
		if h.onExit != nil {
			h.onExit(code)
		}
	}
	close(h.done)
}

/**
 * Terminate 终止子进程：先礼后兵
 * @param {time.Duration} grace - SIGTERM之后等待的宽限时间
 * @returns {bool} 进程没有在宽限时间内退出、被强杀时为true
 * @returns {error} 信号发送失败时返回错误
 * @description
 * - 进程已经退出时直接返回，可重复调用
 * - Windows上没有SIGTERM语义，直接Kill
 */
func (h *Handle) Terminate(grace time.Duration) (bool, error) {
	h.mutex.Lock()
	cmd := h.cmd
	h.mutex.Unlock()

	if cmd == nil || cmd.Process == nil {
		return false, nil
	}
	select {
	case <-h.done:
		return false, nil
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// 信号发不出去通常意味着进程已经消失
		select {
		case <-h.done:
			return false, nil
		default:
		}
		logger.Warnf("Failed to signal process '%s' (PID: %d): %v, force killing",
			h.title, cmd.Process.Pid, err)
		return true, cmd.Process.Kill()
	}

	select {
	case <-h.done:
		return false, nil
	case <-time.After(grace):
	}

	logger.Warnf("Process '%s' (PID: %d) did not exit within %v, force killing",
		h.title, cmd.Process.Pid, grace)
	if err := cmd.Process.Kill(); err != nil {
		select {
		case <-h.done:
			return true, nil
		default:
		}
		return true, fmt.Errorf("failed to kill process '%s' (PID: %d): %w",
			h.title, cmd.Process.Pid, err)
	}
	<-h.done
	return true, nil
}

/**
 * Detach 放弃对子进程的管理，让它在守护进程退出后继续运行
 * @returns {int} 被放走的进程PID，进程已退出时为0
 * @description
 * - 此后退出回调不再触发，调用方需要记录PID以便后续手工管理
 */
func (h *Handle) Detach() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	select {
	case <-h.done:
		return 0
	default:
	}
	h.detached = true
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	pid := h.cmd.Process.Pid
	logger.Infof("Process '%s' (PID: %d) detached", h.title, pid)
	return pid
}
