package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yubzen/phonepilot/internal/agentapi"
	"github.com/yubzen/phonepilot/internal/task"
)

func NewRunCmd() *cobra.Command {
	var sessionID string
	var agent string
	var name string
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run one task headless and print its steps",
		Long: "Run one task headless and print its steps as they settle.\n" +
			"Without --session a new session is created. Ctrl+C stops the run.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentType, err := parseAgent(agent)
			if err != nil {
				return err
			}
			rt, err := Bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			return runTask(cmd, rt, sessionID, name, agentType, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Existing session id")
	cmd.Flags().StringVarP(&agent, "agent", "a", "", "Agent type (glm|gelab)")
	cmd.Flags().StringVar(&name, "name", "", "Name for a newly created session")
	return cmd
}

func parseAgent(raw string) (agentapi.AgentType, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}
	a := agentapi.AgentType(raw)
	if !a.Valid() {
		return "", fmt.Errorf("unknown agent type %q (want glm or gelab)", raw)
	}
	return a, nil
}

func runTask(cmd *cobra.Command, rt *Runtime, sessionID, name string, agent agentapi.AgentType, text string) error {
	out := cmd.OutOrStdout()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connErrs := make(chan error, 1)
	ctrl := rt.NewController(func(_ string, err error) {
		select {
		case connErrs <- err:
		default:
		}
	})
	defer ctrl.Close()

	if sessionID == "" {
		create := agent
		if create == "" {
			create = agentapi.AgentType(rt.Config.Agent.DefaultType)
		}
		sess, err := ctrl.CreateSession(ctx, name, create)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		fmt.Fprintf(out, "session %s\n", sess.ID)
	} else if err := ctrl.SelectSession(ctx, sessionID); err != nil {
		return err
	}
	if agent != "" {
		ctrl.SetAgent(agent)
	}

	p := &progress{
		w:            out,
		showThinking: rt.Config.UI.ShowThinking,
		first:        len(ctrl.Snapshot().Messages),
	}
	fmt.Fprintf(out, "> %s\n", text)
	if err := ctrl.SendTask(ctx, text); err != nil {
		return err
	}

	linesCtx, stopLines := context.WithCancel(ctx)
	defer stopLines()

	var lines <-chan struct{}
	readingLines := false
	interrupted := ctx.Done()
	for {
		select {
		case _, ok := <-ctrl.Changes():
			if !ok {
				return task.ErrClosed
			}
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(out, "stopping...")
			if err := ctrl.Stop(context.Background()); err != nil && !errors.Is(err, task.ErrNotRunning) {
				rt.Logger.Warn("stop failed", zap.Error(err))
			}
		case _, ok := <-lines:
			if !ok {
				// stdin is gone; takeovers can still be finished with "takeover done"
				lines = nil
				break
			}
			if err := ctrl.AcknowledgeTakeover(context.Background()); err != nil && !errors.Is(err, task.ErrNoTakeover) {
				return err
			}
		}

		snap := ctrl.Snapshot()
		p.update(snap)
		if snap.Takeover.Active && !readingLines {
			readingLines = true
			lines = readLines(linesCtx, cmd.InOrStdin())
		}
		if !snap.Running() {
			return runResult(snap, connErrs)
		}
	}
}

// readLines signals once per line read from r. The channel is closed when
// r ends or ctx is done; a line read after that is dropped.
func readLines(ctx context.Context, r io.Reader) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case ch <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func runResult(snap task.Snapshot, connErrs <-chan error) error {
	if snap.LastOutcome != task.PhaseErrored {
		return nil
	}
	select {
	case err := <-connErrs:
		return fmt.Errorf("task failed: %w", err)
	default:
	}
	msg := ""
	if n := len(snap.Messages); n > 0 {
		msg = snap.Messages[n-1].Content
	}
	return fmt.Errorf("task failed: %s", msg)
}
