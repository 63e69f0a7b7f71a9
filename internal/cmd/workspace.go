package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/autopilot/internal/config"
	"github.com/Iron-Ham/autopilot/internal/errors"
	"github.com/Iron-Ham/autopilot/internal/lease"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/plan"
	"github.com/Iron-Ham/autopilot/internal/progress"
)

// leaseDirName is the lease directory inside the state directory.
const leaseDirName = "leases"

// workspace is the resolved view of one autopilot workspace: its root,
// state directory and effective configuration.
type workspace struct {
	Root       string
	StateDir   string
	ConfigFile string
	Config     *config.Config
}

// loadWorkspace resolves the workspace for cmd from the --workspace and
// --config flags, the environment and any config file found.
func loadWorkspace(cmd *cobra.Command) (*workspace, error) {
	root := flagString(cmd, "workspace")
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		root = cwd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	cfgFile, err := readConfig(root, flagString(cmd, "config"))
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &workspace{
		Root:       root,
		StateDir:   cfg.State.ResolveStateDir(root),
		ConfigFile: cfgFile,
		Config:     cfg,
	}, nil
}

// readConfig loads defaults, the config file and AUTOPILOT_* environment
// variables into viper. It returns the config file used, if any.
func readConfig(root, cfgFile string) (string, error) {
	viper.Reset()
	config.SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(filepath.Join(root, ".autopilot"))
		viper.AddConfigPath(root)
	}

	viper.SetEnvPrefix("AUTOPILOT")
	// e.g. AUTOPILOT_COMPLETION_STRATEGY for completion.strategy
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return "", fmt.Errorf("read config: %w", err)
		}
		return "", nil
	}
	return viper.ConfigFileUsed(), nil
}

func flagString(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}

// PlanFile is the absolute plan path.
func (w *workspace) PlanFile() string {
	return w.Config.Plan.ResolvePlanFile(w.Root)
}

// PlanSource returns the plan loader used by runs.
func (w *workspace) PlanSource() plan.FileSource {
	return plan.FileSource{Path: w.PlanFile()}
}

// LeaseDir is the lease directory.
func (w *workspace) LeaseDir() string {
	return filepath.Join(w.StateDir, leaseDirName)
}

// Leases opens the lease store with the configured wait policy.
func (w *workspace) Leases(logger *logging.Logger) *lease.Store {
	return lease.NewStore(w.LeaseDir(),
		lease.WithPollInterval(w.Config.Lease.PollInterval()),
		lease.WithWaitTimeout(w.Config.Lease.WaitTimeout()),
		lease.WithLogger(logger),
	)
}

// ProgressPath is the file backing the configured progress store.
func (w *workspace) ProgressPath() string {
	if w.Config.Progress.Backend == "sqlite" {
		return w.Config.Progress.ResolveDatabase(w.StateDir)
	}
	return w.Config.Progress.ResolveFile(w.Root)
}

// OpenProgress opens the configured progress backend. The returned closer
// must be closed when the store is no longer used.
func (w *workspace) OpenProgress(logger *logging.Logger) (progress.Store, io.Closer, error) {
	switch w.Config.Progress.Backend {
	case "sqlite":
		if err := os.MkdirAll(w.StateDir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		store, err := progress.OpenSQLiteStore(w.ProgressPath(), progress.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return progress.NewMarkdownStore(w.ProgressPath(), progress.WithLogger(logger)), io.NopCloser(nil), nil
	}
}

// Tasks loads and parses the plan.
func (w *workspace) Tasks() ([]plan.Task, error) {
	return plan.Load(w.PlanFile())
}

// requireTask returns an error matching errors.ErrTaskNotFound when id is not
// in tasks.
func requireTask(tasks []plan.Task, id string) error {
	if _, ok := plan.Find(tasks, id); !ok {
		return errors.NewNotFoundError("task", id)
	}
	return nil
}
