package sqlagent

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName = "sqlagent"

	// DefaultMaxIterations is the iteration cap when none is configured.
	DefaultMaxIterations = 6
	DefaultTopK          = 10
	DefaultSampleRows    = 3

	DefaultLLMProvider = "fireworks"
	DefaultLLMModel    = "accounts/fireworks/models/llama-v3-70b-instruct"
	DefaultLLMBaseURL  = "https://api.fireworks.ai/inference/v1"

	// LimitNotice is returned as the run output when a limit stops the loop.
	LimitNotice = "Agent stopped due to iteration limit or time limit."
)

var (
	DefaultConfigPath = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDataDir    = filepath.Join(userDataDir(), DefaultAppName)
	DefaultStorePath  = filepath.Join(DefaultDataDir, "runs.db")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}
