package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/carfigo/server/internal/config"
	"github.com/carfigo/server/internal/data"
	"github.com/carfigo/server/internal/discord"
	"github.com/carfigo/server/internal/handler"
	"github.com/carfigo/server/internal/persist"
	"github.com/carfigo/server/internal/scripting"
	"github.com/carfigo/server/internal/session"
	"github.com/carfigo/server/internal/spawn"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             carfigo  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     collectible carfigure Discord bot     \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s\n\n", name)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main bot logic ─────────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("CARFIGO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Server.Token == "" {
		return fmt.Errorf("no bot token: set server.token or CARFIGO_TOKEN")
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Connect to PostgreSQL and run migrations
	printSection("database")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()
	printOK("PostgreSQL connected")

	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	printOK("migrations applied")
	fmt.Println()

	// 4. Create repositories
	playerRepo := persist.NewPlayerRepo(db)
	figureRepo := persist.NewFigureRepo(db)
	exchangeRepo := persist.NewExchangeRepo(db)
	store := persist.NewNegotiationStore(figureRepo, exchangeRepo)

	// 5. Load static data tables
	printSection("data")

	figureTable, err := data.LoadFigureTable("data/yaml/figure_list.yaml")
	if err != nil {
		return fmt.Errorf("load figure table: %w", err)
	}
	printStat("figure templates", figureTable.Count())

	eventTable, err := data.LoadEventTable("data/yaml/event_list.yaml")
	if err != nil {
		return fmt.Errorf("load event table: %w", err)
	}
	printStat("event modifiers", eventTable.Count())

	// 6. Initialize Lua scripting engine
	var luaEngine *scripting.Engine
	if cfg.Spawn.ScriptsDir != "" {
		luaEngine, err = scripting.NewEngine(cfg.Spawn.ScriptsDir, log)
		if err != nil {
			return fmt.Errorf("lua engine: %w", err)
		}
		defer luaEngine.Close()
		printOK("lua scripts loaded")
	}
	fmt.Println()

	// 7. Gateway, spawn manager and negotiation registry
	gateway, err := discord.NewGateway(cfg, log)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var filter spawn.Filter
	if luaEngine != nil {
		filter = luaEngine
	}
	spawner := spawn.NewManager(cfg.Spawn, figureTable, eventTable, gateway, filter, rng, log)
	for _, guildID := range cfg.Server.BlacklistedGuilds {
		spawner.Blacklist(guildID)
	}

	sessions := session.NewRegistry(cfg.Exchange, store, gateway, log)

	// 8. Interaction handlers
	reg := handler.NewRegistry()
	deps := &handler.Deps{
		Config:    cfg,
		Log:       log,
		Players:   playerRepo,
		Instances: figureRepo,
		Exchanges: exchangeRepo,
		Figures:   figureTable,
		Events:    eventTable,
		Spawner:   spawner,
		Sessions:  sessions,
		Scripts:   luaEngine,
		RNG:       rand.New(rand.NewSource(time.Now().UnixNano() + 1)),
	}
	handler.RegisterAll(reg, deps)
	gateway.Bind(spawner, reg)

	// 9. Connect and wait for shutdown
	if err := gateway.Open(ctx); err != nil {
		return fmt.Errorf("discord: %w", err)
	}

	printSection("ready")
	printReady("gateway connected, commands registered")
	fmt.Println()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdownCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	// Cancel live negotiations so no instance stays leased.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	sessions.Shutdown(shutdownCtx)

	if err := gateway.Close(); err != nil {
		log.Warn("gateway close", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
