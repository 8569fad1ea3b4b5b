// Package cli implements the fcompose command tree.
package cli

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tOgg1/fcompose/internal/composebox"
	"github.com/tOgg1/fcompose/internal/config"
	"github.com/tOgg1/fcompose/internal/drafts"
	"github.com/tOgg1/fcompose/internal/events"
	"github.com/tOgg1/fcompose/internal/kvstore"
	"github.com/tOgg1/fcompose/internal/logging"
)

// Execute runs the root command.
func Execute(version string) error {
	a := &app{logger: zerolog.Nop()}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Warn().Err(err).Msg("shutdown")
		}
	}()
	return newRootCmd(a, version).Execute()
}

type options struct {
	configFile string
	envFile    string
	logLevel   string
	jsonOutput bool
	yamlOutput bool
}

// app holds everything a command needs. It is filled in by the root
// PersistentPreRunE and released by close.
type app struct {
	opts options

	cfg       *config.Config
	logger    zerolog.Logger
	logFile   io.Closer
	store     kvstore.Store
	publisher *events.InMemoryPublisher
	streams   composebox.Streams
	box       *composebox.Box
	banners   *composebox.Banners
	narrow    *composebox.Narrow
	lifecycle *drafts.Lifecycle
	// expired counts drafts removed by the startup sweep.
	expired int

	out    io.Writer
	errOut io.Writer
}

func newRootCmd(a *app, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fcompose",
		Short:         "Compose-box drafts and resumable uploads",
		Long:          "fcompose keeps unsent messages as drafts and uploads attachments with resumable transfers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.opts.configFile, "config", "", "config file (default ~/.config/fcompose/config.yaml)")
	flags.StringVar(&a.opts.envFile, "env-file", "", "dotenv file loaded before the environment (default .env)")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.BoolVar(&a.opts.jsonOutput, "json", false, "output JSON")
	flags.BoolVar(&a.opts.yamlOutput, "yaml", false, "output YAML")

	cmd.AddCommand(
		newDraftCmd(a),
		newNarrowCmd(a),
		newUploadCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	a.errOut = cmd.ErrOrStderr()

	if a.opts.jsonOutput && a.opts.yamlOutput {
		return fmt.Errorf("--json and --yaml are mutually exclusive")
	}

	loader := config.NewLoader()
	if a.opts.configFile != "" {
		loader.SetConfigFile(a.opts.configFile)
	}
	if a.opts.envFile != "" {
		loader.SetEnvFile(a.opts.envFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if a.opts.logLevel != "" {
		cfg.Logging.Level = a.opts.logLevel
	}
	a.cfg = cfg

	if err := a.initLogging(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store, err := kvstore.Open(cfg)
	if err != nil {
		// Drafts still work for this invocation; nothing is persisted.
		a.logger.Warn().Err(err).Str("backend", cfg.Store.Backend).Msg("store unavailable, keeping drafts in memory")
		store = kvstore.NewMemoryStore()
	}
	a.store = store

	streams, err := composebox.StreamsFromConfig(cfg.Streams)
	if err != nil {
		return fmt.Errorf("config streams: %w", err)
	}
	a.streams = streams

	a.publisher = events.NewInMemoryPublisher()
	a.banners = composebox.NewBanners(a.errOut)
	if !a.machineOutput() {
		if err := a.banners.WatchNotices(a.publisher, "cli-notices"); err != nil {
			return err
		}
	}
	a.box = composebox.New()
	a.narrow = composebox.NewNarrow(config.NewNarrowStore(cfg.NarrowContextPath()))

	model := drafts.NewModel(store, drafts.WithPublisher(a.publisher))
	a.lifecycle = drafts.NewLifecycle(model, drafts.Collaborators{
		Composer: a.box,
		Narrower: a.narrow,
		Streams:  a.streams,
		Notifier: drafts.PublishNotifier(a.publisher),
	},
		drafts.WithMaxAge(cfg.Drafts.MaxAge),
		drafts.WithMinContentLength(cfg.Drafts.MinContentLength),
	)

	a.lifecycle.FixDraftsWithUndefinedTopics()
	a.expired = a.lifecycle.RemoveOldDrafts()
	return nil
}

func (a *app) initLogging() error {
	logCfg := logging.Config{
		Level:        a.cfg.Logging.Level,
		Format:       a.cfg.Logging.Format,
		Output:       a.errOut,
		EnableCaller: a.cfg.Logging.EnableCaller,
	}
	if a.cfg.Logging.File != "" {
		f, err := logging.OpenFile(a.cfg.Logging.File)
		if err != nil {
			return err
		}
		logCfg.Output = f
		a.logFile = f
	}
	logging.Init(logCfg)
	a.logger = logging.Component("cli")
	return nil
}

func (a *app) close() error {
	if a.publisher != nil {
		a.publisher.Close()
	}
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
		a.store = nil
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.logFile = nil
	}
	return firstErr
}

func (a *app) machineOutput() bool {
	return a.opts.jsonOutput || a.opts.yamlOutput
}

func (a *app) writeOutput(v any) error {
	if a.opts.yamlOutput {
		return writeYAML(a.out, v)
	}
	return writeJSON(a.out, v)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
