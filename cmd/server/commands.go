package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"pesagate/config"
	"pesagate/internal/router"
	"pesagate/internal/service"

	"github.com/spf13/cobra"
)

// cliWorkflow builds a workflow without ledger or push channels for one-off operator commands.
func cliWorkflow(configPath string) (*service.PaymentWorkflow, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	wf := service.NewPaymentWorkflow(service.WorkflowDeps{
		Processor: router.NewProcessor(&cfg.Pesapal),
	}, service.WorkflowOptions{
		IPNURL:              cfg.Pesapal.IPNURL,
		IPNNotificationType: cfg.Pesapal.IPNNotificationType,
	})
	return wf, cfg, nil
}

func commandContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(cfg.Pesapal.TokenAttempts+1)*(cfg.Pesapal.RequestTimeout+cfg.Pesapal.TokenRetryDelay))
}

func tokenCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Fetch a processor access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, cfg, err := cliWorkflow(*configPath)
			if err != nil {
				return err
			}
			defer wf.Close()
			ctx, cancel := commandContext(cfg)
			defer cancel()
			tok, err := wf.AccessToken(ctx)
			if err != nil {
				return err
			}
			fmt.Println(tok.AccessToken)
			if !tok.Expiry.IsZero() {
				fmt.Fprintf(os.Stderr, "expires %s\n", tok.Expiry.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func registerIPNCmd(configPath *string) *cobra.Command {
	var notificationType string
	cmd := &cobra.Command{
		Use:   "register-ipn [url]",
		Short: "Register an IPN URL (defaults to pesapal.ipn_url)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, cfg, err := cliWorkflow(*configPath)
			if err != nil {
				return err
			}
			defer wf.Close()
			url := ""
			if len(args) == 1 {
				url = args[0]
			}
			if url == "" && cfg.Pesapal.IPNURL == "" {
				return errors.New("no url given and pesapal.ipn_url is not set")
			}
			ctx, cancel := commandContext(cfg)
			defer cancel()
			reg, err := wf.RegisterIPN(ctx, url, strings.ToUpper(notificationType))
			if err != nil {
				return err
			}
			fmt.Printf("ipn_id:  %s\nipn_url: %s\ntype:    %s\n", reg.IPNID, reg.URL, reg.NotificationType)
			return nil
		},
	}
	cmd.Flags().StringVarP(&notificationType, "type", "t", "", "Notification method (GET or POST)")
	return cmd
}

func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [orderTrackingId]",
		Short: "Look up a transaction status once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, cfg, err := cliWorkflow(*configPath)
			if err != nil {
				return err
			}
			defer wf.Close()
			ctx, cancel := commandContext(cfg)
			defer cancel()
			res, err := wf.GetStatus(ctx, args[0])
			if err != nil {
				return err
			}
			var pretty map[string]any
			if json.Unmarshal(res.Raw, &pretty) == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Println(string(out))
			} else {
				fmt.Println(string(res.Raw))
			}
			fmt.Fprintf(os.Stderr, "status: %s\n", res.Status)
			return nil
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for admin.password_hash (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := ""
			if len(args) == 1 {
				pw = args[0]
			} else {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				pw = strings.TrimRight(line, "\r\n")
			}
			if pw == "" {
				return errors.New("empty password")
			}
			hash, err := service.HashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
