package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yubzen/phonepilot/internal/agentapi"
	"github.com/yubzen/phonepilot/internal/timeline"
)

const statusConcurrency = 4

func NewSessionCmd() *cobra.Command {
	var withStatus bool
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage agent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionList(cmd, withStatus)
		},
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionList(cmd, withStatus)
		},
	}

	var name, agent string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
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
			if agentType == "" {
				agentType = agentapi.AgentType(rt.Config.Agent.DefaultType)
			}
			sess, err := rt.Directory.CreateSession(cmd.Context(), name, agentType)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (%s)\n", sess.ID, sess.AgentType.Normalize())
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Session name")
	createCmd.Flags().StringVar(&agent, "agent", "", "Agent type (glm|gelab)")

	deleteCmd := &cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a session and its cached history",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := Bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Directory.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := Bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			sess, msgs, err := loadTimeline(cmd.Context(), rt, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  agent=%s  status=%s\n", sess.ID, sess.DisplayName(), sess.AgentType.Normalize(), sess.Status)
			if len(msgs) == 0 {
				fmt.Fprintln(out, "(no messages)")
				return nil
			}
			for _, m := range msgs {
				printMessage(out, m, rt.Config.UI.ShowThinking)
			}
			return nil
		},
	}

	sessionCmd.PersistentFlags().BoolVar(&withStatus, "status", false, "Also fetch live agent status per session")
	sessionCmd.AddCommand(listCmd, createCmd, deleteCmd, showCmd)
	return sessionCmd
}

func loadTimeline(ctx context.Context, rt *Runtime, sessionID string) (*agentapi.Session, []timeline.Message, error) {
	sess, err := rt.Directory.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	records, err := rt.Directory.ListConversations(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess, timeline.Reconcile(records), nil
}

func runSessionList(cmd *cobra.Command, withStatus bool) error {
	rt, err := Bootstrap()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	sessions, err := rt.Directory.ListSessions(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}

	statuses := make([]string, len(sessions))
	if withStatus {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(statusConcurrency)
		for i, s := range sessions {
			g.Go(func() error {
				st, err := rt.Client.Status(gctx, s.ID)
				if err != nil {
					// one unreachable session should not hide the rest
					statuses[i] = "unknown"
					return nil
				}
				statuses[i] = describeStatus(st)
				return nil
			})
		}
		_ = g.Wait()
	}

	w := tabwriter.NewWriter(out, 2, 2, 2, ' ', 0)
	if withStatus {
		fmt.Fprintln(w, "ID\tNAME\tAGENT\tSTATUS\tUPDATED\tLIVE")
	} else {
		fmt.Fprintln(w, "ID\tNAME\tAGENT\tSTATUS\tUPDATED")
	}
	for i, s := range sessions {
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s", s.ID, s.DisplayName(), s.AgentType.Normalize(), s.Status, formatWhen(s.UpdatedAt.Time))
		if withStatus {
			line += "\t" + statuses[i]
		}
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}

func describeStatus(st agentapi.Status) string {
	switch {
	case st.HasTakeover:
		return "takeover pending"
	case st.IsTaskRunning:
		return "running"
	case st.IsConnected:
		return "connected"
	}
	return "idle"
}
