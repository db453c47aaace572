package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yubzen/phonepilot/internal/config"
	"github.com/yubzen/phonepilot/internal/logger"
	"github.com/yubzen/phonepilot/internal/mockagent"
)

func NewMockServerCmd() *cobra.Command {
	var (
		addr          string
		scenario      string
		scenarioFile  string
		token         string
		stepDelay     time.Duration
		listScenarios bool
	)
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve a scripted stand-in for the agent server",
		Long: "Serve a scripted stand-in for the agent server.\n" +
			"A task starting with /scenario:<name> picks a scenario for that run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios := mockagent.BuiltinScenarios()
			if path := strings.TrimSpace(scenarioFile); path != "" {
				loaded, err := mockagent.LoadScenarios(path)
				if err != nil {
					return err
				}
				scenarios = loaded
			}
			if listScenarios {
				for _, name := range mockagent.ScenarioNames(scenarios) {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.NewLogger(logger.LoggingConfig{
				Level:      cfg.Logging.Level,
				Format:     cfg.Logging.Format,
				OutputPath: "stderr",
			})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			srv, err := mockagent.New(mockagent.Options{
				Scenario:  scenario,
				Scenarios: scenarios,
				Token:     token,
				StepDelay: stepDelay,
				Logger:    log,
			})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&scenario, "scenario", "tap", "Default scenario")
	cmd.Flags().StringVar(&scenarioFile, "scenarios", "", "YAML file with extra scenarios")
	cmd.Flags().StringVar(&token, "token", "", "Require this bearer token on /api routes")
	cmd.Flags().DurationVar(&stepDelay, "step-delay", 0, "Pause before each scripted event (default 150ms)")
	cmd.Flags().BoolVar(&listScenarios, "list", false, "List scenario names and exit")
	return cmd
}
