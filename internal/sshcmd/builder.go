package sshcmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"portpilot/internal/models"
)

var (
	// ErrInvalidDefinition 隧道或主机定义不完整，无法构造ssh命令行
	ErrInvalidDefinition = errors.New("invalid tunnel definition")
	// ErrSSHNotFound 本机找不到可用的ssh客户端
	ErrSSHNotFound = errors.New("ssh binary not found")
)

// 常见安装路径，PATH查找失败后逐个尝试
var wellKnownPaths = []string{
	"/usr/bin/ssh",
	"/usr/local/bin/ssh",
	"/opt/homebrew/bin/ssh",
}

/**
 * Locate the ssh client binary used to run tunnels
 * @param {string} configured - Binary name or absolute path from configuration
 * @returns {string} Resolved path to the ssh executable
 * @returns {error} ErrSSHNotFound when no usable binary exists
 * @description
 * - An absolute configured path is checked directly
 * - A bare name is resolved through PATH, then well-known install locations
 * - On Windows the OpenSSH feature path is also probed
 */
func FindSSH(configured string) (string, error) {
	if configured == "" {
		configured = "ssh"
	}

	// 绝对路径直接校验存在性
	if strings.ContainsAny(configured, `/\`) {
		if info, err := os.Stat(configured); err == nil && !info.IsDir() {
			return configured, nil
		}
		return "", fmt.Errorf("%w: %s", ErrSSHNotFound, configured)
	}

	if path, err := exec.LookPath(configured); err == nil {
		return path, nil
	}
	// 常见安装路径只替默认的ssh兜底，自定义名字找不到就是找不到
	if !strings.EqualFold(strings.TrimSuffix(configured, ".exe"), "ssh") {
		return "", fmt.Errorf("%w: %s", ErrSSHNotFound, configured)
	}

	candidates := wellKnownPaths
	if runtime.GOOS == "windows" {
		candidates = []string{
			`C:\Windows\System32\OpenSSH\ssh.exe`,
			`C:\Program Files\Git\usr\bin\ssh.exe`,
		}
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSSHNotFound, configured)
}

/**
 * Build the ssh argument vector for a tunnel definition
 * @param {*models.Host} host - Connection target the tunnel runs through
 * @param {*models.Tunnel} tunnel - Forwarding definition (local/remote/dynamic)
 * @returns {[]string} Arguments for the ssh binary, excluding argv[0]
 * @returns {error} ErrInvalidDefinition when the definition cannot produce a valid command
 * @description
 * - The forwarding flag comes first, then -N and ExitOnForwardFailure so a
 *   failed port binding exits the process instead of lingering connected
 * - Extra arguments are appended verbatim before the destination, letting
 *   the user override any generated option
 * - Pure function: no I/O, safe to call for validation alone
 */
func BuildArgs(host *models.Host, tunnel *models.Tunnel) ([]string, error) {
	if host == nil || tunnel == nil {
		return nil, fmt.Errorf("%w: missing host or tunnel", ErrInvalidDefinition)
	}
	if strings.TrimSpace(host.Hostname) == "" {
		return nil, fmt.Errorf("%w: host %d has empty hostname", ErrInvalidDefinition, host.ID)
	}
	if strings.TrimSpace(host.Username) == "" {
		return nil, fmt.Errorf("%w: host %d has empty username", ErrInvalidDefinition, host.ID)
	}
	port := host.Port
	if port == 0 {
		port = 22
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: host port %d out of range", ErrInvalidDefinition, host.Port)
	}
	if tunnel.LocalPort < 1 || tunnel.LocalPort > 65535 {
		return nil, fmt.Errorf("%w: local port %d out of range", ErrInvalidDefinition, tunnel.LocalPort)
	}

	forward, err := forwardSpec(tunnel)
	if err != nil {
		return nil, err
	}

	args := []string{}
	args = append(args, forward...)
	args = append(args, "-N", "-o", "ExitOnForwardFailure=yes")

	if host.IdentityFile != "" {
		args = append(args, "-i", host.IdentityFile)
	}
	if host.KeepaliveInterval > 0 {
		countMax := host.KeepaliveCountMax
		if countMax <= 0 {
			countMax = 3
		}
		args = append(args,
			"-o", fmt.Sprintf("ServerAliveInterval=%d", host.KeepaliveInterval),
			"-o", fmt.Sprintf("ServerAliveCountMax=%d", countMax))
	}

	// 用户自定义参数原样追加，可覆盖前面生成的选项
	if extra := strings.TrimSpace(host.ExtraArgs); extra != "" {
		args = append(args, strings.Fields(extra)...)
	}

	args = append(args, fmt.Sprintf("%s@%s", host.Username, host.Hostname))
	args = append(args, "-p", fmt.Sprintf("%d", port))
	return args, nil
}

// forwardSpec 根据隧道类型生成转发参数
func forwardSpec(tunnel *models.Tunnel) ([]string, error) {
	switch tunnel.Type {
	case models.TunnelLocal, models.TunnelRemote:
		if strings.TrimSpace(tunnel.RemoteHost) == "" {
			return nil, fmt.Errorf("%w: %s tunnel %d has empty remote host",
				ErrInvalidDefinition, tunnel.Type, tunnel.ID)
		}
		if tunnel.RemotePort < 1 || tunnel.RemotePort > 65535 {
			return nil, fmt.Errorf("%w: remote port %d out of range",
				ErrInvalidDefinition, tunnel.RemotePort)
		}
		spec := fmt.Sprintf("%d:%s:%d", tunnel.LocalPort, tunnel.RemoteHost, tunnel.RemotePort)
		if tunnel.BindAddress != "" {
			spec = tunnel.BindAddress + ":" + spec
		}
		flag := "-L"
		if tunnel.Type == models.TunnelRemote {
			flag = "-R"
		}
		return []string{flag, spec}, nil
	case models.TunnelDynamic:
		if tunnel.RemoteHost != "" || tunnel.RemotePort != 0 {
			return nil, fmt.Errorf("%w: dynamic tunnel %d must not set a remote endpoint",
				ErrInvalidDefinition, tunnel.ID)
		}
		spec := fmt.Sprintf("%d", tunnel.LocalPort)
		if tunnel.BindAddress != "" {
			spec = tunnel.BindAddress + ":" + spec
		}
		return []string{"-D", spec}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tunnel type '%s'", ErrInvalidDefinition, tunnel.Type)
	}
}
