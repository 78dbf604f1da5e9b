package repofleet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skaphos/repofleet/internal/config"
	"github.com/skaphos/repofleet/internal/gitx"
	"github.com/skaphos/repofleet/internal/logging"
	"github.com/skaphos/repofleet/internal/registry"
)

var (
	// newRunner and newSpawner are overridable in tests.
	newRunner  = func() gitx.Runner { return &gitx.GitRunner{} }
	newSpawner = func() gitx.Spawner { return &gitx.GitSpawner{} }
)

// session is the state every command loads before doing work.
type session struct {
	cfg     *config.Config
	cfgPath string
	regPath string
	reg     *registry.Registry
	logger  *zap.Logger
}

func loadSession(cmd *cobra.Command) (*session, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfgPath, err := config.ResolveConfigPath(flagConfig, cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	debugf(cmd, "using config %s", cfgPath)

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	regPath := cfg.RegistryFile(cfgPath)
	reg, err := registry.LoadOrEmpty(regPath)
	if err != nil {
		return nil, fmt.Errorf("load registry %s: %w", regPath, err)
	}
	debugf(cmd, "using registry %s (%d entries)", regPath, len(reg.Entries))

	return &session{cfg: cfg, cfgPath: cfgPath, regPath: regPath, reg: reg, logger: logger}, nil
}

func (s *session) save() error {
	return registry.Save(s.reg, s.regPath)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := logging.Level(cfg.Log.Level)
	switch {
	case flagVerbose > 1:
		level = logging.LevelDebug
	case flagVerbose == 1 && (level == logging.LevelWarn || level == logging.LevelError):
		level = logging.LevelInfo
	}
	return logging.NewFactory().CreateLogger(level, logging.Format(cfg.Log.Format), cfg.Log.File)
}

// resolveTarget turns a CLI target into something the executor accepts:
// "." is the current directory, anything path-like becomes absolute, and
// everything else is treated as a registered name.
func resolveTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "." || filepath.IsAbs(target) || strings.ContainsRune(target, filepath.Separator) || strings.HasPrefix(target, ".") {
		return filepath.Abs(target)
	}
	return target, nil
}

// resolveRepoDir maps a target to a directory for commands that read the
// repository directly. Names are looked up in the registry.
func (s *session) resolveRepoDir(target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		target = "."
	}
	resolved, err := resolveTarget(target)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(resolved) {
		return resolved, nil
	}
	entry := s.reg.FindByName(resolved)
	if entry == nil {
		return "", fmt.Errorf("no registered repository named %q", resolved)
	}
	return entry.Path, nil
}
