package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sameehj/sshgate/internal/audit"
	"github.com/sameehj/sshgate/pkg/config"
	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Inspect the invocation audit log"}
	cmd.AddCommand(auditListCmd())
	cmd.AddCommand(auditPurgeCmd())
	return cmd
}

func openAuditStore() (*config.Config, *audit.Store, error) {
	cfg, err := config.LoadConfig(resolveConfigPath(cfgFile))
	if err != nil {
		return nil, nil, err
	}
	if cfg.Audit.Path == "" {
		return nil, nil, errors.New("audit.path is not configured")
	}
	store, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func auditListCmd() *cobra.Command {
	var caller string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openAuditStore()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Recent(commandContext(cmd), caller, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tCALLER\tOP\tKIND\tDURATION\tCOMMAND")
			for _, rec := range records {
				kind := rec.Kind
				if rec.Reason != "" {
					kind += " (" + rec.Reason + ")"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.CreatedAt.Format(time.RFC3339), rec.Caller, rec.Operation, kind,
					time.Duration(rec.DurationMs)*time.Millisecond, rec.Command)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "only show this caller")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of records")
	return cmd
}

func auditPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete records older than audit.retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openAuditStore()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := audit.NewRetention(store, cfg.Audit.PurgeSchedule, cfg.AuditRetention(), nil).PurgeOnce(commandContext(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d records\n", n)
			return nil
		},
	}
}

func secretCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "secret", Short: "Manage the encrypted remote password"}
	cmd.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "Print a new key for SSHGATE_SECRET_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := config.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a password read from stdin with SSHGATE_SECRET_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := os.Getenv("SSHGATE_SECRET_KEY")
			if key == "" {
				return errors.New("SSHGATE_SECRET_KEY is not set")
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("empty password")
			}
			token, err := config.EncryptSecret(password, config.Secret(key))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	})
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
