package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"virtops"
	"virtops/cmd/virtops/ui"
	"virtops/config"
	"virtops/internal/logging"
	"virtops/platform"
)

// app carries the state shared by every command: flag values, the loaded
// config and whatever the command opened.
type app struct {
	configPath    string
	dataRoot      string
	store         string
	debug         bool
	noInteraction bool
	parallel      int

	out    io.Writer
	errOut io.Writer

	// deps builds the operator backends; tests swap in fakes.
	deps func(*config.Config) platform.Deps

	cfg      *config.Config
	logs     io.Closer
	st       platform.Store
	progress *ui.Progress
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, deps: platform.HostDeps}
}

func (a *app) bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/virtops/config.yaml)")
	f.StringVar(&a.dataRoot, "data-root", "", "Directory holding the state store")
	f.StringVar(&a.store, "store", "", "State store: sqlite or jsondir")
	f.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	f.BoolVar(&a.noInteraction, "no-interaction", false, "Plain output without colour")
	f.IntVar(&a.parallel, "parallel", 0, "Identities converged at once (default from config)")
}

// setup loads the config, applies flag overrides and installs logging.
func (a *app) setup(cmd *cobra.Command) error {
	ui.ConfigureInteraction(a.noInteraction)

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("data-root") {
		cfg.DataRoot = a.dataRoot
	}
	if flags.Changed("store") {
		cfg.Store = a.store
	}
	if flags.Changed("parallel") {
		cfg.Parallel = a.parallel
	}
	if a.debug {
		cfg.LogLevel = logging.LevelDebug
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logs, err := logging.Setup(cfg.Logging())
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	a.cfg = cfg
	a.logs = logs
	return nil
}

// engine opens the store and returns an engine reporting progress on errOut.
func (a *app) engine() (*platform.Engine, error) {
	if a.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	st, err := platform.OpenStore(a.cfg)
	if err != nil {
		return nil, err
	}
	a.st = st
	a.progress = ui.NewProgress(a.errOut)
	return platform.NewEngine(st, a.deps(a.cfg), platform.WithTracer(a.progress.Tracer("virtops"))), nil
}

func (a *app) close() {
	if a.progress != nil {
		a.progress.Close()
	}
	if a.st != nil {
		_ = a.st.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func parseIdentities(args []string) ([]virtops.Identity, error) {
	ids := make([]virtops.Identity, 0, len(args))
	for _, arg := range args {
		id, err := virtops.ParseIdentity(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
