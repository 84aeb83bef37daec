// Command mcconsole is a terminal remote console for game servers speaking
// the JSONAPI protocol.
//
// Usage:
//
//	mcconsole                     # start disconnected, type #connect
//	mcconsole --connect           # connect with the configured settings
//	mcconsole --config ./dev.toml # use another configuration file
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"pkt.systems/psi"
	"pkt.systems/pslog"

	mcconsole "github.com/Paranoid-AF/mcconsole"
	"github.com/Paranoid-AF/mcconsole/console"
	"github.com/Paranoid-AF/mcconsole/remote"
	"github.com/Paranoid-AF/mcconsole/store"
	"github.com/Paranoid-AF/mcconsole/system"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("mcconsole command failed")
		return 1
	}
	return 0
}

type runOptions struct {
	configPath string
	verbose    bool
	connect    bool
}

func newRootCmd() *cobra.Command {
	var opts runOptions
	root := &cobra.Command{
		Use:           "mcconsole",
		Short:         "Remote console for JSONAPI game servers",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	root.Flags().StringVar(&opts.configPath, "config", "", "configuration file (default "+mcconsole.ConfigPath()+")")
	root.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug detail to the log file")
	root.Flags().BoolVar(&opts.connect, "connect", false, "connect on start")
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "mcconsole %s\n", Version)
			return err
		},
	}
}

func loadConfig(path string) (*mcconsole.Config, error) {
	if err := mcconsole.LoadEnvFile(); err != nil {
		return nil, err
	}
	var (
		cfg *mcconsole.Config
		err error
	)
	if path == "" {
		cfg, err = mcconsole.LoadConfig()
	} else {
		cfg, err = mcconsole.LoadConfigFile(path)
	}
	if err != nil {
		return nil, err
	}
	if problems := mcconsole.ValidateConfig(cfg); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", problems[0])
	}
	cfg.Remote = mcconsole.ResolveRemote(cfg)
	return cfg, nil
}

// openLog sends logging to a file in the state directory while the
// terminal is in raw mode.
func openLog(cfg *mcconsole.Config, verbose bool) (pslog.Logger, func(), error) {
	dir := mcconsole.StateDir(cfg)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "mcconsole.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	level := pslog.InfoLevel
	if verbose {
		level = pslog.DebugLevel
	}
	logger := pslog.NewWithOptions(f, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: level,
	})
	return logger, func() { f.Close() }, nil
}

func run(ctx context.Context, opts runOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger, closeLog, err := openLog(cfg, opts.verbose)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer closeLog()
	log.SetOutput(pslog.LogLogger(logger).Writer())

	st, err := store.New(nil, mcconsole.StatePath(cfg), logger)
	if err != nil {
		return err
	}

	queue := console.NewQueue(cfg.UI.QueueSize)
	ctrl := console.New(queue, console.WithLogger(logger))
	rem := remote.New(ctrl, cfg, logger)
	defer rem.Close()
	sys := system.New(ctrl, system.Options{
		Config:  cfg,
		Session: rem,
		Store:   st,
		Logger:  logger,
	})
	if _, err := sys.Restore(); err != nil {
		logger.With("err", err).Warn("state restore failed")
	}

	tty, err := OpenTerminal()
	if err != nil {
		return err
	}
	defer tty.Close()

	scr := newScreen(tty, tty.Size, cfg.UI.Scrollback, mcconsole.NoColorEnabled(cfg))
	fmt.Fprint(tty, "\x1b[2J")
	ctrl.Print(
		"mcconsole "+Version,
		"Type #help for local commands, :help for server methods once connected.",
		"Lines starting with / run on the server console; plain text is sent as chat.",
	)
	if opts.connect {
		ctrl.Trigger(console.NewPreInput("#connect"))
	}
	logger.Info("console started", "host", cfg.Remote.Host, "state", st.Path())

	err = runUI(ctx, ctrl, scr, tty)
	logger.Info("console stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runUI runs the key reader and the UI loop until the console closes.
func runUI(ctx context.Context, ctrl *console.Control, scr *screen, tty *Terminal) error {
	g, gctx := errgroup.WithContext(ctx)
	keys := make(chan keyEvent, 64)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(keys)
		return readKeys(tty, keys, done)
	})
	g.Go(func() error {
		defer tty.Close()
		defer close(done)
		return uiLoop(gctx, ctrl, scr, keys)
	})
	return g.Wait()
}

// uiLoop is the only goroutine touching the screen. It applies queued sink
// calls and turns keystrokes into edits or KEYPRESS events.
func uiLoop(ctx context.Context, ctrl *console.Control, scr *screen, keys <-chan keyEvent) error {
	queue := ctrl.Queue()
	for {
		queue.Drain(scr)
		if scr.closed {
			return nil
		}
		if err := scr.render(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			ctrl.CloseRequested()
			return ctx.Err()
		case fn := <-queue.C():
			fn(scr)
		case k, ok := <-keys:
			if !ok {
				ctrl.CloseRequested()
				return nil
			}
			handleKey(ctrl, scr, k)
		}
	}
}

func handleKey(ctrl *console.Control, scr *screen, k keyEvent) {
	switch k.kind {
	case keyInterrupt:
		ctrl.CloseRequested()
		return
	case keyEOF:
		if len(scr.input.buf) == 0 {
			ctrl.CloseRequested()
		}
		return
	}
	if key := k.consoleKey(); key != console.KeyNone {
		ctrl.Trigger(console.NewKeyPress(scr.input.String(), key))
		return
	}
	scr.input.apply(k)
}
