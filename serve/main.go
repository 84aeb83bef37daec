// Command mcconsole-mockd is a stand-in JSONAPI game server for trying the
// console without a real one. It answers calls on the call API port and
// streams console, chat and connections lines on the stream port.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/psi"
	"pkt.systems/pslog"
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
		pslog.Ctx(ctx).With("err", err).Error("mcconsole-mockd command failed")
		return 1
	}
	return 0
}

type serveOptions struct {
	addr       string
	streamAddr string
	username   string
	password   string
	salt       string
	players    []string
	autosave   time.Duration
}

func newRootCmd() *cobra.Command {
	var opts serveOptions
	root := &cobra.Command{
		Use:           "mcconsole-mockd",
		Short:         "Scripted JSONAPI server for local testing",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	f := root.Flags()
	f.StringVar(&opts.addr, "addr", "127.0.0.1:20059", "call API listen address")
	f.StringVar(&opts.streamAddr, "stream-addr", "127.0.0.1:20060", "stream socket listen address")
	f.StringVar(&opts.username, "username", "admin", "API username")
	f.StringVar(&opts.password, "password", "changeme", "API password")
	f.StringVar(&opts.salt, "salt", "", "API salt")
	f.StringSliceVar(&opts.players, "players", []string{"Notch", "jeb_"}, "players online at start")
	f.DurationVar(&opts.autosave, "autosave", 5*time.Minute, "interval of autosave console lines, 0 disables")
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "mcconsole-mockd %s\n", Version)
			return err
		},
	}
}

func serve(ctx context.Context, opts serveOptions) error {
	logger := pslog.Ctx(ctx)
	srv, err := NewServer(Options{
		Addr:       opts.addr,
		StreamAddr: opts.streamAddr,
		Username:   opts.username,
		Password:   opts.password,
		Salt:       opts.salt,
		Players:    opts.players,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Close()

	logger.Info("ready", "addr", srv.API().Addr(), "stream", srv.API().StreamAddr(), "players", len(opts.players))
	srv.Run(ctx, opts.autosave)
	logger.Info("shutting down")
	return nil
}
