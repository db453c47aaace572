package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yubzen/phonepilot/internal/agentapi"
	"github.com/yubzen/phonepilot/internal/config"
)

func NewAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the agent server API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus(cmd)
		},
	}

	var setToken string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the API token in the OS keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(setToken)
			if token == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Enter API token: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read api token: %w", err)
				}
				token = strings.TrimSpace(line)
			}
			if token == "" {
				return errors.New("api token cannot be empty")
			}
			if err := agentapi.StoreToken(token); err != nil {
				return fmt.Errorf("store api token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Stored API token")
			return nil
		},
	}
	setCmd.Flags().StringVar(&setToken, "token", "", "API token value")

	removeCmd := &cobra.Command{
		Use:     "remove",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove the stored API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := agentapi.RemoveToken(); err != nil {
				return fmt.Errorf("remove api token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Removed API token")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a token is configured and accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus(cmd)
		},
	}

	authCmd.AddCommand(setCmd, removeCmd, statusCmd)
	return authCmd
}

func runAuthStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	token, err := agentapi.LoadToken()
	switch {
	case errors.Is(err, agentapi.ErrCredentialNotFound):
		fmt.Fprintln(out, "token:  not set (phonepilot auth set)")
	case err != nil:
		return err
	case strings.TrimSpace(os.Getenv(agentapi.TokenEnv)) != "":
		fmt.Fprintf(out, "token:  set via $%s\n", agentapi.TokenEnv)
	default:
		fmt.Fprintln(out, "token:  stored")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client := agentapi.NewClient(agentapi.Options{
		BaseURL: cfg.Server.BaseURL,
		Token:   token,
		Timeout: cfg.RequestTimeout(),
	})
	fmt.Fprintf(out, "server: %s\n", client.BaseURL())
	_, err = client.ListSessions(cmd.Context())
	switch {
	case err == nil:
		fmt.Fprintln(out, "access: ok")
	case agentapi.IsAuthError(err):
		fmt.Fprintln(out, "access: rejected")
	default:
		fmt.Fprintf(out, "access: unknown (%v)\n", err)
	}
	return nil
}
