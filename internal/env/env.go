package env

import (
	"os"
	"path/filepath"
)

// 构建时通过-ldflags注入
var (
	Version       = "dev"
	BuildTime     = ""
	BuildCommitId = ""
)

// (default: %USERPROFILE%/.portpilot on Windows, $HOME/.portpilot on Linux)
var PortpilotDir string = GetPortpilotDir()

/**
 * Get portpilot directory path
 * @returns {string} Returns portpilot directory path
 */
func GetPortpilotDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".portpilot")
}
