package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/yubzen/phonepilot/internal/cli"
	"github.com/yubzen/phonepilot/internal/config"
	"github.com/yubzen/phonepilot/internal/tui"
)

func restoreTerminalState() {
	fmt.Fprint(os.Stderr, "\x1b[?25h\x1b[0m")
}

func runTUI(ctx context.Context, sessionID string) error {
	rt, err := cli.Bootstrap()
	if err != nil {
		return err
	}
	defer rt.Close()

	var program *tea.Program
	ctrl := rt.NewController(func(_ string, err error) {
		if program != nil {
			program.Send(tui.CommandResultMsg{Msg: fmt.Sprintf("Connection error: %v", err)})
		}
	})
	defer ctrl.Close()

	opts := tui.Options{
		Config:     rt.Config,
		ConfigPath: config.GetConfigPath(),
		Controller: ctrl,
		Sessions:   rt.Directory,
		Logger:     rt.Logger,
		SessionID:  sessionID,
	}
	if rt.DB != nil {
		opts.History = rt.DB
	}
	app := tui.NewAppModel(opts)
	defer app.Close()

	program = tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	return err
}

func main() {
	var sessionID string

	rootCmd := &cobra.Command{
		Use:           "phonepilot",
		Short:         "Drive a phone automation agent from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), sessionID)
		},
	}
	rootCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Open this session on start")

	rootCmd.AddCommand(
		cli.NewRunCmd(),
		cli.NewSessionCmd(),
		cli.NewStatusCmd(),
		cli.NewStopCmd(),
		cli.NewTakeoverCmd(),
		cli.NewDisconnectCmd(),
		cli.NewExportCmd(),
		cli.NewAuthCmd(),
		cli.NewConfigCmd(),
		cli.NewMockServerCmd(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		restoreTerminalState()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	restoreTerminalState()
}
