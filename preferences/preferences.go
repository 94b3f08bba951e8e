// Package preferences - Process-wide settings read from the environment and an optional YAML file.
package preferences

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-zoo/nn"
)

const (
	// EnvConfig points at a YAML preferences file.
	EnvConfig = "ZOO_CONFIG"
	// EnvWorkspaceMode selects the execution workspace mode (ENABLED or NONE).
	EnvWorkspaceMode = "ZOO_WORKSPACE_MODE"
	// EnvWeightsDir is the local pretrained weight directory.
	EnvWeightsDir = "ZOO_WEIGHTS_DIR"
	// EnvWeightsURL is the remote base URL missing weight files are fetched from.
	EnvWeightsURL = "ZOO_WEIGHTS_URL"
	// EnvLogLevel is the logrus level used by the command line tool.
	EnvLogLevel = "ZOO_LOG_LEVEL"
)

// File is the YAML preferences file layout.
type File struct {
	WorkspaceMode string `yaml:"workspace_mode"`
	WeightsDir    string `yaml:"weights_dir"`
	WeightsURL    string `yaml:"weights_url"`
	LogLevel      string `yaml:"log_level"`
}

var (
	mu        sync.RWMutex
	fileVars  = map[string]string{}
	logger    = logrus.StandardLogger().WithField("component", "preferences")
	defaultWS = nn.WorkspaceModeEnabled
)

// Load overlays the YAML file at path. Environment variables still take precedence.
func Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read preferences")
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return errors.Wrapf(err, "parse preferences %s", path)
	}

	vars := map[string]string{}
	for k, v := range map[string]string{
		EnvWorkspaceMode: f.WorkspaceMode,
		EnvWeightsDir:    f.WeightsDir,
		EnvWeightsURL:    f.WeightsURL,
		EnvLogLevel:      f.LogLevel,
	} {
		if v != "" {
			vars[k] = v
		}
	}

	mu.Lock()
	fileVars = vars
	mu.Unlock()
	return nil
}

// LoadFromEnv loads the file named by ZOO_CONFIG, if set.
func LoadFromEnv() error {
	if path := clean(os.Getenv(EnvConfig)); path != "" {
		return Load(path)
	}
	return nil
}

// Reset drops any loaded file overlay.
func Reset() {
	mu.Lock()
	fileVars = map[string]string{}
	mu.Unlock()
}

// Var returns the value of key from the environment, then the loaded file.
func Var(key string) string {
	if v := clean(os.Getenv(key)); v != "" {
		return v
	}
	mu.RLock()
	defer mu.RUnlock()
	return fileVars[key]
}

// WorkspaceMode returns the workspace mode used for every network build.
// Invalid values fall back to ENABLED with a warning.
func WorkspaceMode() nn.WorkspaceMode {
	s := Var(EnvWorkspaceMode)
	if s == "" {
		return defaultWS
	}
	m, err := nn.ParseWorkspaceMode(strings.ToUpper(s))
	if err != nil {
		logger.WithField("value", s).Warn("invalid workspace mode, using default")
		return defaultWS
	}
	return m
}

// WeightsDir returns the local pretrained weight directory.
func WeightsDir() string {
	if s := Var(EnvWeightsDir); s != "" {
		return s
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "go-zoo", "weights")
	}
	return filepath.Join(home, ".go-zoo", "weights")
}

// WeightsURL returns the remote weight base URL, or "" when offline.
func WeightsURL() string {
	return Var(EnvWeightsURL)
}

// LogLevel returns the configured log level, defaulting to info.
func LogLevel() logrus.Level {
	s := Var(EnvLogLevel)
	if s == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(s)
	if err != nil {
		logger.WithField("value", s).Warn("invalid log level, using info")
		return logrus.InfoLevel
	}
	return lvl
}

func clean(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'")
}
