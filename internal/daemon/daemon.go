// Package daemon wires the whole process together: the session store, the
// tool registry, the agent graph, the runner, and the Slack ingress, plus
// the HTTP maintenance surface and the scheduled session sweep.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/longnt/sage/internal/agents"
	"github.com/longnt/sage/internal/config"
	"github.com/longnt/sage/internal/logger"
	"github.com/longnt/sage/internal/notion"
	"github.com/longnt/sage/internal/observability"
	"github.com/longnt/sage/internal/report"
	"github.com/longnt/sage/internal/slack"
	"github.com/longnt/sage/internal/toolset"
	"github.com/longnt/sage/pkg/agent"
	"github.com/longnt/sage/pkg/orchestrator"
	"github.com/longnt/sage/pkg/session"
	"github.com/longnt/sage/pkg/store"
	"github.com/longnt/sage/pkg/tools"
)

// Daemon is the long-running process. It owns every component and manages
// their lifecycles.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	store        *store.Store
	sessions     *session.Manager
	registry     *tools.Registry
	agentSet     *agents.Set
	runner       *agent.Runner
	orchestrator *orchestrator.Orchestrator
	slackClient  *slack.Client
	socketClient *slack.SocketModeClient
	httpServer   *http.Server
	scheduler    *cron.Cron
	watcher      *configWatcher

	configPath string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// Option adjusts daemon construction.
type Option func(*Daemon)

// WithConfigPath enables live reload of agent instructions when the config
// file at path changes.
func WithConfigPath(path string) Option {
	return func(d *Daemon) {
		d.configPath = path
	}
}

// New creates a daemon and initializes all components in dependency order.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.initialize(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}

	return d, nil
}

func (d *Daemon) initialize() error {
	log := d.logger.GetZerolog()
	cfg := d.config

	st, err := store.Open(cfg.Session.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	d.store = st

	sessions, err := session.NewManager(st, session.Config{
		Retention:    time.Duration(cfg.Session.RetentionDays) * 24 * time.Hour,
		HistoryLimit: cfg.Session.HistoryLimit,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	d.sessions = sessions

	slackClient, err := slack.NewClient(cfg.Slack.BotToken, slack.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create slack client: %w", err)
	}
	d.slackClient = slackClient

	notionClient, err := notion.NewClient(cfg.Notion.APIKey, cfg.Notion.DatabaseID, notion.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create notion client: %w", err)
	}

	reportClient, err := report.NewClient(cfg.Report.Endpoint, cfg.Report.Token, report.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create report client: %w", err)
	}

	d.registry = tools.NewRegistry(log)
	if err := toolset.Register(d.registry, toolset.Deps{
		Slack:   slackClient,
		Tasks:   notionClient,
		Reports: reportClient,
		Logger:  log,
	}); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	d.agentSet = agents.NewSet(agents.Overrides{
		Assistant:      cfg.Agents.AssistantInstructions,
		RequestMonitor: cfg.Agents.RequestMonitorInstructions,
		TaskMonitor:    cfg.Agents.TaskMonitorInstructions,
	})

	profiles := make([]agent.AuthProfile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		})
	}

	runner, err := agent.NewRunner(agent.Config{
		Registry:     d.registry,
		Logger:       log,
		AuthProfiles: profiles,
		RunTimeout:   time.Duration(cfg.Run.TimeoutSeconds) * time.Second,
		MaxTurns:     cfg.Run.MaxTurns,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}
	d.runner = runner

	orch, err := orchestrator.New(orchestrator.Config{
		Sessions: sessions,
		Runner:   runner,
		Select:   d.agentSet.Select,
		Model: agent.ModelConfig{
			Model:       cfg.Model.Model,
			Temperature: cfg.Model.Temperature,
			MaxTokens:   cfg.Model.MaxTokens,
			MaxRetries:  cfg.Model.MaxRetries,
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.orchestrator = orch

	if cfg.Slack.Mode == "socket" {
		socketClient, err := slack.NewSocketModeClient(cfg.Slack.AppToken, d.handleMessage, log)
		if err != nil {
			return fmt.Errorf("failed to create socket mode client: %w", err)
		}
		d.socketClient = socketClient
	}

	d.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           d.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	d.scheduler = cron.New()
	if _, err := d.scheduler.AddFunc(cfg.Session.CleanupSchedule, d.runCleanup); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Session.CleanupSchedule, err)
	}

	if d.configPath != "" {
		watcher, err := newConfigWatcher(d.configPath, d.reloadAgents, log)
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = watcher
	}

	return nil
}

// Start brings every component online. The startup sweep runs before the
// ingress accepts traffic so the cache never serves expired sessions.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mu.Unlock()

	log := d.logger.GetZerolog()
	log.Info().Msg("Starting sage daemon")

	d.runCleanup()

	d.scheduler.Start()
	log.Info().Str("schedule", d.config.Session.CleanupSchedule).Msg("Cleanup scheduler started")

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		} else {
			log.Info().Str("path", d.configPath).Msg("Config watcher started")
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		log.Info().Str("addr", d.httpServer.Addr).Msg("HTTP server listening")
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	if d.socketClient != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.socketClient.Run(d.ctx); err != nil && d.ctx.Err() == nil {
				log.Error().Err(err).Msg("Socket mode client failed")
			}
		}()
		log.Info().Msg("Socket mode client started")
	}

	log.Info().Str("mode", d.config.Slack.Mode).Msg("Daemon started")
	return nil
}

// Stop shuts everything down gracefully.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.logger.GetZerolog()
	log.Info().Msg("Stopping sage daemon")

	d.cancel()

	if d.watcher != nil {
		d.watcher.Stop()
	}

	cronCtx := d.scheduler.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	d.wg.Wait()

	if err := d.store.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close session store")
	}

	log.Info().Msg("Daemon stopped")
	return nil
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log := d.logger.GetZerolog()
	log.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// handleMessage is the ingress callback. It runs the exchange and posts the
// reply back to the originating channel.
func (d *Daemon) handleMessage(ctx context.Context, userID, channelID, text string) {
	reply := d.orchestrator.HandleInbound(ctx, orchestrator.Inbound{
		UserID:    userID,
		ChannelID: channelID,
		Text:      text,
	})
	if reply == "" {
		return
	}

	if err := d.slackClient.PostReply(ctx, channelID, reply); err != nil {
		log := d.logger.GetZerolog()
		log.Error().
			Err(err).
			Str("channel_id", channelID).
			Msg("Failed to post reply")
	}
}

func (d *Daemon) runCleanup() {
	retention := time.Duration(d.config.Session.RetentionDays) * 24 * time.Hour
	removed, err := d.sessions.EvictStale(d.ctx, retention)
	log := d.logger.GetZerolog()
	if err != nil {
		log.Error().Err(err).Msg("Session sweep failed")
		return
	}
	log.Info().Int("removed", removed).Msg("Session sweep completed")
}

// reloadAgents re-reads the config file and swaps the agent instruction
// overrides. Credentials and wiring are not reloaded; those need a restart.
func (d *Daemon) reloadAgents() {
	log := d.logger.GetZerolog()

	cfg, err := config.Load(d.configPath)
	if err != nil {
		log.Warn().Err(err).Msg("Config reload failed, keeping current agents")
		return
	}

	d.agentSet.Reload(agents.Overrides{
		Assistant:      cfg.Agents.AssistantInstructions,
		RequestMonitor: cfg.Agents.RequestMonitorInstructions,
		TaskMonitor:    cfg.Agents.TaskMonitorInstructions,
	})
	log.Info().Msg("Agent instructions reloaded")
}
