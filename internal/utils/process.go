package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Path2ProcessName 从可执行文件路径提取进程名
func Path2ProcessName(path string) string {
	return filepath.Base(strings.TrimSpace(path))
}

/**
 * Find a live process by PID and verify its executable name
 * @param {string} processName - Expected executable name (e.g. "ssh")
 * @param {int} pid - Process ID recorded for a detached tunnel run
 * @returns {*os.Process} Process handle when the PID is alive and names match
 * @returns {error} Error when the PID is gone or owned by a different program
 * @description
 * - PIDs recorded for detached runs can be recycled by the OS; the name
 *   check prevents adopting (or killing) an unrelated process
 */
func FindProcess(processName string, pid int) (*os.Process, error) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, err
	}

	// 获取进程名
	name, err := GetProcessName(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to get process name for PID %d: %v", pid, err)
	}

	// 比较进程名（不区分大小写）
	if strings.EqualFold(Path2ProcessName(name), processName) {
		return proc, nil
	}
	return nil, fmt.Errorf("process name mismatch: expected '%s', got '%s'", processName, name)
}

// KillProcess 根据进程名和PID杀死进程，名字不匹配时拒绝操作
func KillProcess(processName string, pid int) error {
	if _, err := FindProcess(processName, pid); err != nil {
		return err
	}
	return KillProcessByPID(pid)
}
