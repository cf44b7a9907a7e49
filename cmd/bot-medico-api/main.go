package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gsPatrick/bot-medico-api/internal/api"
	"github.com/gsPatrick/bot-medico-api/internal/flow"
	"github.com/gsPatrick/bot-medico-api/internal/lockfile"
	"github.com/gsPatrick/bot-medico-api/internal/messaging"
	"github.com/gsPatrick/bot-medico-api/internal/store"
	"github.com/gsPatrick/bot-medico-api/internal/twiliowhatsapp"
	"github.com/gsPatrick/bot-medico-api/internal/util"
	"github.com/gsPatrick/bot-medico-api/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for bot state data
	DefaultStateDir = "/var/lib/bot-medico"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "bot-medico.db"
	// BackendWhatsApp selects the Whatsmeow-based WhatsApp backend
	BackendWhatsApp = "whatsapp"
	// BackendTwilio selects the Twilio WhatsApp API backend
	BackendTwilio = "twilio"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Only one instance may use a state directory at a time
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	slog.Info("Bootstrapping triage bot with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "backend", *flags.backend)

	if err := run(flags); err != nil {
		slog.Error("Triage bot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Triage bot exited successfully")
}

// run wires the store, messaging backend, flow engine, dispatcher and API
// server together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	// Messaging backend
	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}

	// Flow engine
	engine := flow.NewEngine(st, msgService, buildEngineOptions(flags)...)

	// Inbound event dispatch
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	dispatcher := messaging.NewDispatcher(msgService, engine)
	go dispatcher.Start(ctx)

	// API server (blocks until ctx is cancelled)
	server := api.NewServer(st, msgService, engine, buildAPIOptions(flags)...)
	return server.Run(ctx)
}

// Config holds environment configuration
type Config struct {
	WhatsAppDSN  string
	DatabaseURL  string
	StateDir     string
	APIAddr      string
	Backend      string
	DashboardURL string
	SendDelay    time.Duration
	MaxChain     int
	TextOnly     bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	textOnly     *bool
	stateDir     *string
	dbDSN        *string
	apiAddr      *string
	backend      *string
	dashboardURL *string
	sendDelay    *time.Duration
	maxChain     *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		WhatsAppDSN:  os.Getenv("WHATSAPP_DB_DSN"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("BOT_MEDICO_STATE_DIR"),
		APIAddr:      os.Getenv("API_ADDR"),
		Backend:      os.Getenv("MESSAGING_BACKEND"),
		DashboardURL: os.Getenv("DASHBOARD_URL"),
		SendDelay:    util.ParseDurationEnv("SEND_DELAY", 0),
		MaxChain:     util.ParseIntEnv("MAX_CHAIN_LENGTH", 0),
		TextOnly:     util.ParseBoolEnv("TEXT_ONLY_PROMPTS", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No BOT_MEDICO_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("BOT_MEDICO_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Default to the general database URL if no WhatsApp-specific DSN is set
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_URL as WHATSAPP_DB_DSN", "dsn_set", true)
		}
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	if config.Backend == "" {
		config.Backend = BackendWhatsApp
	}

	slog.Debug("environment variables loaded",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"BOT_MEDICO_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"MESSAGING_BACKEND", config.Backend,
		"DASHBOARD_URL_SET", config.DashboardURL != "",
		"SEND_DELAY", config.SendDelay,
		"MAX_CHAIN_LENGTH", config.MaxChain,
		"TEXT_ONLY_PROMPTS", config.TextOnly)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		textOnly:     flag.Bool("text-only", config.TextOnly, "render choice prompts as numbered text instead of buttons (overrides $TEXT_ONLY_PROMPTS)"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for bot data (overrides $BOT_MEDICO_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.WhatsAppDSN, "database DSN for WhatsApp session and bot store (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		backend:      flag.String("messaging-backend", config.Backend, "messaging backend, whatsapp or twilio (overrides $MESSAGING_BACKEND)"),
		dashboardURL: flag.String("dashboard-url", config.DashboardURL, "dashboard base URL for handover notifications (overrides $DASHBOARD_URL)"),
		sendDelay:    flag.Duration("send-delay", config.SendDelay, "pause between consecutive bot messages (overrides $SEND_DELAY)"),
		maxChain:     flag.Int("max-chain-length", config.MaxChain, "maximum automatic node executions per inbound event (overrides $MAX_CHAIN_LENGTH)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"textOnly", *flags.textOnly,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"backend", *flags.backend,
		"dashboardURL", *flags.dashboardURL,
		"sendDelay", *flags.sendDelay,
		"maxChain", *flags.maxChain)

	// Keep the SQLite default in sync when only the state directory was overridden
	if *flags.dbDSN == config.WhatsAppDSN && config.WhatsAppDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// buildStore constructs the bot store matching the configured DSN type
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildMessagingService constructs the messaging backend selected by configuration
func buildMessagingService(flags Flags) (messaging.Service, error) {
	if *flags.backend == BackendTwilio {
		slog.Debug("Configuring Twilio messaging backend")
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	}

	slog.Debug("Configuring Whatsmeow messaging backend")
	client, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
	if err != nil {
		return nil, err
	}
	return messaging.NewWhatsAppService(client), nil
}

// buildWhatsAppOptions constructs WhatsApp client configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.textOnly {
		waOpts = append(waOpts, whatsapp.WithTextOnlyPrompts())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return waOpts
}

// buildEngineOptions constructs flow engine configuration options
func buildEngineOptions(flags Flags) []flow.Option {
	var engineOpts []flow.Option
	if *flags.maxChain > 0 {
		engineOpts = append(engineOpts, flow.WithMaxChainLength(*flags.maxChain))
	}
	if *flags.sendDelay > 0 {
		engineOpts = append(engineOpts, flow.WithSendDelay(*flags.sendDelay))
	}
	if *flags.dashboardURL != "" {
		engineOpts = append(engineOpts, flow.WithDashboardURL(*flags.dashboardURL))
	}
	return engineOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
