// Package cli holds the phonepilot subcommands.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/yubzen/phonepilot/internal/agentapi"
	"github.com/yubzen/phonepilot/internal/config"
	"github.com/yubzen/phonepilot/internal/logger"
	"github.com/yubzen/phonepilot/internal/state"
	"github.com/yubzen/phonepilot/internal/task"
)

// Runtime is the wiring shared by the TUI and the headless commands.
type Runtime struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *state.DB
	Client    *agentapi.Client
	Directory *task.CachingDirectory
}

// Bootstrap loads config and credentials and opens the state cache. Logs go
// to the configured output so they never mix with command output.
func Bootstrap() (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return BootstrapWith(cfg)
}

func BootstrapWith(cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	token, err := agentapi.LoadToken()
	if err != nil && !errors.Is(err, agentapi.ErrCredentialNotFound) {
		fmt.Fprintf(os.Stderr, "warning: reading api token: %v\n", err)
	}

	rt := &Runtime{Config: cfg, Logger: log}
	rt.Client = agentapi.NewClient(agentapi.Options{
		BaseURL: cfg.Server.BaseURL,
		Token:   token,
		Timeout: cfg.RequestTimeout(),
		Logger:  log,
	})

	db, err := state.Connect(cfg.State.DBPath)
	if err != nil {
		// the cache is optional; the directory then talks to the server only
		fmt.Fprintf(os.Stderr, "warning: local cache unavailable, running without it: %v\n", err)
		log.Warn("state cache unavailable", zap.String("path", cfg.State.DBPath), zap.Error(err))
	} else {
		rt.DB = db
	}
	rt.Directory = task.NewCachingDirectory(rt.Client, rt.DB, log)
	return rt, nil
}

// NewController builds a task controller over the runtime's client, cache
// and directory.
func (r *Runtime) NewController(onConnErr func(sessionID string, err error)) *task.Controller {
	opts := task.Options{
		Streamer:           r.Client,
		SideChannel:        r.Client,
		Directory:          r.Directory,
		Logger:             r.Logger,
		SideChannelTimeout: r.Config.RequestTimeout(),
		DefaultAgent:       agentapi.AgentType(strings.ToLower(r.Config.Agent.DefaultType)),
		OnConnectionError:  onConnErr,
	}
	if r.DB != nil {
		opts.Recorder = r.DB
	}
	return task.New(opts)
}

func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.Logger != nil {
		_ = r.Logger.Sync()
	}
}
