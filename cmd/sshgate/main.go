package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sameehj/sshgate/internal/audit"
	"github.com/sameehj/sshgate/pkg/config"
	"github.com/sameehj/sshgate/pkg/gateway"
	"github.com/sameehj/sshgate/pkg/mcp"
	"github.com/sameehj/sshgate/pkg/result"
	"github.com/sameehj/sshgate/pkg/runtime/logging"
	"github.com/sameehj/sshgate/pkg/transport"
	"github.com/sameehj/sshgate/pkg/version"
	"github.com/sameehj/sshgate/server"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var failed *replyError
		if !errors.As(err, &failed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sshgate",
		Short:         "Policy-checked remote command gateway over SSH",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.sshgate/config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(stdioCmd())
	root.AddCommand(execCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(testCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(secretCmd())
	root.AddCommand(versionCmd())
	return root
}

// app is everything a command needs to serve invocations.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	gateway *gateway.Gateway
	store   *audit.Store
}

func (a *app) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

func loadApp(flags *remoteFlags) (*app, error) {
	cfg, err := config.LoadConfig(resolveConfigPath(cfgFile), flags.apply)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	t, err := transport.New(cfg)
	if err != nil {
		return nil, err
	}

	opts := []gateway.Option{gateway.WithLogger(logger)}
	a := &app{cfg: cfg, logger: logger}
	if cfg.Audit.Path != "" {
		store, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		a.store = store
		opts = append(opts, gateway.WithRecorder(store))
	}
	a.gateway = gateway.New(cfg, t, opts...)
	return a, nil
}

// resolveConfigPath falls back to the default location only when a file
// exists there, so an environment-only setup needs no config file.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	path := config.DefaultConfigPath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	flags := newRemoteFlags()
	var addr, httpAddr string
	var maxSessions int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve JSON-RPC over TCP and the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Gateway.Address
			}
			if httpAddr == "" {
				httpAddr = a.cfg.HTTP.Address
			}
			if maxSessions == 0 {
				maxSessions = a.cfg.Gateway.MaxSessions
			}

			mcpServer := mcp.NewServer(a.gateway)
			mcpServer.SetLogger(a.logger)
			mcpServer.SetCancelOnHangup(true)
			gw := gateway.NewServer(addr, mcpServer, gateway.AllowlistAuthorizer{Allowed: a.cfg.Gateway.AllowedAddrs})
			gw.SetLogger(a.logger)
			if maxSessions > 0 {
				gw.SetMaxSessions(maxSessions)
			}
			httpServer := server.NewHTTPServer(a.gateway, a.logger)

			ctx, cancel := signalContext()
			defer cancel()

			workers := 1
			errCh := make(chan error, 3)
			go func() { errCh <- gw.Start(ctx) }()
			if httpAddr != "" {
				workers++
				go func() { errCh <- httpServer.ListenAndServe(ctx, httpAddr) }()
			}
			if a.store != nil {
				workers++
				retention := audit.NewRetention(a.store, a.cfg.Audit.PurgeSchedule, a.cfg.AuditRetention(), a.logger)
				go func() { errCh <- retention.Run(ctx) }()
			}

			a.logger.Info("sshgate_started", "gateway", addr, "http", httpAddr,
				"remote", a.cfg.Remote.Host, "transport", a.cfg.Transport.Mode, "version", version.Version)

			var firstErr error
			for i := 0; i < workers; i++ {
				err := <-errCh
				if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
					firstErr = err
				}
				cancel()
			}
			a.logger.Info("sshgate_stopped")
			return firstErr
		},
	}

	cmd.Flags().AddFlagSet(flags.FlagSet())
	cmd.Flags().StringVar(&addr, "addr", "", "JSON-RPC listen address (overrides gateway.address)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides http.address)")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", 0, "maximum concurrent connections (0 = config value)")
	return cmd
}

func stdioCmd() *cobra.Command {
	flags := newRemoteFlags()
	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve JSON-RPC on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			mcpServer := mcp.NewServer(a.gateway)
			mcpServer.SetLogger(a.logger)
			return mcpServer.ServeContext(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().AddFlagSet(flags.FlagSet())
	return cmd
}

func execCmd() *cobra.Command {
	flags := newRemoteFlags()
	var caller string
	cmd := &cobra.Command{
		Use:   "exec [flags] -- <command...>",
		Short: "Run one command on the remote host",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			reply := a.gateway.Exec(ctx, caller, strings.Join(args, " "))
			return printReply(cmd.OutOrStdout(), cmd.ErrOrStderr(), reply)
		},
	}
	cmd.Flags().AddFlagSet(flags.FlagSet())
	cmd.Flags().StringVar(&caller, "caller", currentUser(), "identity checked against policy.allowedUsers")
	return cmd
}

func statusCmd() *cobra.Command {
	flags := newRemoteFlags()
	var caller string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the configured remote host",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), a.gateway.Status(caller).String())
			return nil
		},
	}
	cmd.Flags().AddFlagSet(flags.FlagSet())
	cmd.Flags().StringVar(&caller, "caller", currentUser(), "identity to report the session for")
	return cmd
}

func testCmd() *cobra.Command {
	flags := newRemoteFlags()
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the connectivity probe against the remote host",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			reply := a.gateway.Test(ctx, currentUser(), func(msg string) {
				fmt.Fprintln(cmd.ErrOrStderr(), msg)
			})
			return printReply(cmd.OutOrStdout(), cmd.ErrOrStderr(), reply)
		},
	}
	cmd.Flags().AddFlagSet(flags.FlagSet())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "sshgate "+version.String())
			return nil
		},
	}
}

// printReply writes successful output to stdout verbatim and failures to
// stderr, returning an error so the process exits non-zero.
func printReply(stdout, stderr io.Writer, reply gateway.Reply) error {
	if reply.OK() {
		fmt.Fprint(stdout, reply.Text)
		if !strings.HasSuffix(reply.Text, "\n") {
			fmt.Fprintln(stdout)
		}
		return nil
	}
	fmt.Fprintln(stderr, reply.Text)
	return &replyError{kind: reply.Kind}
}

// replyError marks a failed invocation whose message was already printed.
type replyError struct {
	kind result.Kind
}

func (e *replyError) Error() string {
	return "invocation failed: " + string(e.kind)
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}
