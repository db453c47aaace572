package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yubzen/phonepilot/internal/agentapi"
	"github.com/yubzen/phonepilot/internal/task"
)

type CommandResultMsg struct {
	Msg string
}

// SessionsLoadedMsg carries the result of /sessions.
type SessionsLoadedMsg struct {
	Sessions []agentapi.Session
	Err      error
}

// SessionSelectedMsg follows a successful /new or /switch.
type SessionSelectedMsg struct {
	SessionID string
	Created   bool
	Err       error
}

type slashCommand struct {
	Name        string
	Usage       string
	Description string
}

var slashCommands = []slashCommand{
	{Name: "/sessions", Description: "Pick a session"},
	{Name: "/new", Usage: "[name]", Description: "Create a session and switch to it"},
	{Name: "/switch", Usage: "<id>", Description: "Switch to a session by id"},
	{Name: "/stop", Usage: "[force]", Description: "Stop the running task"},
	{Name: "/done", Description: "Finish a manual takeover"},
	{Name: "/status", Description: "Ask the server for the session status"},
	{Name: "/agent", Usage: "<glm|gelab>", Description: "Agent used for the next task"},
	{Name: "/quit", Description: "Leave phonepilot"},
}

const commandTimeout = 15 * time.Second

func filterSlashCommands(input string, limit int) []slashCommand {
	if limit <= 0 {
		limit = len(slashCommands)
	}

	raw := strings.TrimSpace(input)
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return nil
	}
	// once arguments are being typed the command is settled
	if strings.ContainsAny(strings.TrimLeft(input, " "), " \t") {
		return nil
	}

	query := strings.ToLower(strings.TrimPrefix(raw, "/"))
	if query == "" {
		if limit > len(slashCommands) {
			limit = len(slashCommands)
		}
		return slashCommands[:limit]
	}

	matches := make([]slashCommand, 0, limit)
	add := func(c slashCommand) bool {
		if len(matches) >= limit {
			return false
		}
		matches = append(matches, c)
		return true
	}

	for _, c := range slashCommands {
		if strings.HasPrefix(strings.TrimPrefix(c.Name, "/"), query) {
			if !add(c) {
				return matches
			}
		}
	}
	for _, c := range slashCommands {
		name := strings.TrimPrefix(c.Name, "/")
		if strings.HasPrefix(name, query) {
			continue
		}
		if strings.Contains(name, query) {
			if !add(c) {
				return matches
			}
		}
	}
	return matches
}

// splitSlashCommand returns the command word and the rest of the line.
func splitSlashCommand(input string) (string, string) {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return "", ""
	}
	return strings.ToLower(parts[0]), strings.Join(parts[1:], " ")
}

func resultf(format string, args ...any) tea.Cmd {
	return func() tea.Msg {
		return CommandResultMsg{Msg: fmt.Sprintf(format, args...)}
	}
}

// handleSlashCommand turns a slash command into the tea.Cmd that performs
// it. Server calls run inside the returned command, off the update loop.
func handleSlashCommand(cmdStr string, app *AppModel) tea.Cmd {
	name, arg := splitSlashCommand(cmdStr)
	switch name {
	case "/quit", "/exit":
		return tea.Quit
	}

	known := false
	for _, c := range slashCommands {
		if c.Name == name {
			known = true
			break
		}
	}
	if !known {
		if suggestions := filterSlashCommands(name, 1); len(suggestions) == 1 {
			return resultf("Unknown command: %s. Did you mean %s?", cmdStr, suggestions[0].Name)
		}
		return resultf("Unknown command: %s", cmdStr)
	}
	if app == nil || app.ctrl == nil {
		return resultf("%s is unavailable: not connected to a controller", name)
	}

	ctrl := app.ctrl
	switch name {
	case "/sessions":
		if app.sessions == nil {
			return resultf("Session listing is unavailable.")
		}
		lister := app.sessions
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			sessions, err := lister.ListSessions(ctx)
			return SessionsLoadedMsg{Sessions: sessions, Err: err}
		}

	case "/new":
		agent := ctrl.Snapshot().Agent
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			sess, err := ctrl.CreateSession(ctx, arg, agent)
			if err != nil {
				return SessionSelectedMsg{Err: err}
			}
			return SessionSelectedMsg{SessionID: sess.ID, Created: true}
		}

	case "/switch":
		if arg == "" {
			return resultf("Usage: /switch <id>")
		}
		return selectSessionCmd(ctrl, arg)

	case "/stop":
		if strings.EqualFold(arg, "force") || arg == "--force" {
			return func() tea.Msg {
				res, err := ctrl.ForceStop(context.Background())
				if err != nil {
					return CommandResultMsg{Msg: fmt.Sprintf("Force stop failed: %v", err)}
				}
				return CommandResultMsg{Msg: fmt.Sprintf("Force stop: %s", res.Message)}
			}
		}
		return func() tea.Msg {
			if err := ctrl.Stop(context.Background()); err != nil {
				return CommandResultMsg{Msg: describeControlError(err)}
			}
			return nil
		}

	case "/done":
		return func() tea.Msg {
			if err := ctrl.AcknowledgeTakeover(context.Background()); err != nil {
				return CommandResultMsg{Msg: describeControlError(err)}
			}
			return CommandResultMsg{Msg: "Takeover finished. The agent continues."}
		}

	case "/status":
		return func() tea.Msg {
			status, err := ctrl.SyncStatus(context.Background())
			if err != nil {
				return CommandResultMsg{Msg: fmt.Sprintf("Status failed: %s", describeControlError(err))}
			}
			return CommandResultMsg{Msg: fmt.Sprintf("connected=%t running=%t takeover=%t",
				status.IsConnected, status.IsTaskRunning, status.HasTakeover)}
		}

	case "/agent":
		if arg == "" {
			return resultf("Agent: %s", ctrl.Snapshot().Agent)
		}
		agent := agentapi.AgentType(strings.ToLower(arg))
		if !agent.Valid() {
			return resultf("Unknown agent %q (want glm or gelab)", arg)
		}
		ctrl.SetAgent(agent)
		return resultf("Agent set to %s for the next task.", agent)
	}
	return resultf("Unknown command: %s", cmdStr)
}

func selectSessionCmd(ctrl *task.Controller, sessionID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := ctrl.SelectSession(ctx, sessionID); err != nil {
			return SessionSelectedMsg{SessionID: sessionID, Err: err}
		}
		// a missed takeover is only visible through the status call
		_, _ = ctrl.SyncStatus(ctx)
		return SessionSelectedMsg{SessionID: sessionID}
	}
}

func describeControlError(err error) string {
	switch {
	case errors.Is(err, task.ErrNotRunning):
		return "No task is running."
	case errors.Is(err, task.ErrNoTakeover):
		return "No takeover is pending."
	case errors.Is(err, task.ErrNoSession):
		return "No session selected. Use /new or /sessions."
	case errors.Is(err, task.ErrTakeoverPending):
		return "Finish the takeover on the device first (ctrl+t or /done)."
	case errors.Is(err, task.ErrTaskRunning):
		return "A task is already running. Press esc to stop it."
	case agentapi.IsNotFound(err):
		return "Session not found on the server."
	}
	return err.Error()
}
