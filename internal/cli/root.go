// Package cli implements the respond command, a terminal participant for
// anonymous surveys.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/synap-respond/internal/activity"
	"github.com/soaringjerry/synap-respond/internal/config"
	"github.com/soaringjerry/synap-respond/internal/ledger"
	"github.com/soaringjerry/synap-respond/internal/logging"
	"github.com/soaringjerry/synap-respond/internal/participant"
	"github.com/soaringjerry/synap-respond/internal/progress"
	"github.com/soaringjerry/synap-respond/internal/session"
	"github.com/soaringjerry/synap-respond/internal/storage"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath  string
	Format      string // "json" | "text"
	Verbose     bool
	BaseURL     string
	Backend     string
	StoragePath string
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Answer anonymous surveys from the terminal",
		Long: `respond keeps an anonymous survey attempt on this device: it opens a
session, stores answers locally so an attempt survives restarts, and submits
everything at once. Nothing that identifies you is stored.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "", "survey server base URL")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "local storage backend (memory|sqlite|badger)")
	cmd.PersistentFlags().StringVar(&opts.StoragePath, "storage-path", "", "local storage location")

	cmd.AddCommand(
		newStartCommand(opts),
		newAnswerCommand(opts),
		newMoveCommand(opts, "next", "Advance to the next question", (*participant.Flow).Next),
		newMoveCommand(opts, "prev", "Go back one question", (*participant.Flow).Previous),
		newStatusCommand(opts),
		newSubmitCommand(opts),
		newCleanupCommand(opts),
		newResetCommand(opts),
	)
	return cmd
}

// env is everything a command needs, opened per invocation.
type env struct {
	cfg    *config.Config
	flow   *participant.Flow
	out    *formatter
	log    *slog.Logger
	closer io.Closer
}

func openEnv(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Backend != "" {
		cfg.Storage.Backend = strings.ToLower(opts.Backend)
	}
	if opts.StoragePath != "" {
		cfg.Storage.Path = opts.StoragePath
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	log := logging.New(logging.Config{Level: level, Format: cfg.Log.Format, Service: "respond", Output: cmd.ErrOrStderr()})

	store, closer, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path, log)
	if err != nil {
		return nil, err
	}

	tracker := activity.NewTracker()
	tracker.Subscribe(activity.ObserverFunc(func(busy bool) {
		log.Debug("network activity", "busy", busy)
	}))

	client := session.NewClient(cfg.BaseURL, store,
		session.WithLogger(log),
		session.WithEndpoints(cfg.Endpoints),
		session.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		session.WithActivity(tracker),
	)
	flow := participant.New(
		ledger.New(store, ledger.WithLogger(log), ledger.WithRetention(cfg.LedgerRetention)),
		progress.New(store, progress.WithLogger(log)),
		client,
		participant.WithLogger(log),
	)
	return &env{
		cfg:    cfg,
		flow:   flow,
		out:    &formatter{format: opts.Format, w: cmd.OutOrStdout()},
		log:    log,
		closer: closer,
	}, nil
}

// withFlow opens the environment, runs fn and closes storage.
func withFlow(opts *RootOptions, cmd *cobra.Command, fn func(e *env) error) (err error) {
	e, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.closer.Close(); cerr != nil {
			e.log.Warn("close storage", "err", cerr)
		}
	}()
	return fn(e)
}
