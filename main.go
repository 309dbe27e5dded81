// Command background-changer runs the stream background control service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the database (SQLite or Postgres), runs migrations and restores the
//     persisted application state.
//   - Starts background jobs: the OBS session manager, the redemption poller, the
//     optional auto-fulfil worker, the chat announcer, and the Twitch token refresher.
//   - Serves the control API, the OBS image page and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stoopler-tools/background-changer/chat"
	"github.com/stoopler-tools/background-changer/config"
	"github.com/stoopler-tools/background-changer/db"
	"github.com/stoopler-tools/background-changer/notify"
	"github.com/stoopler-tools/background-changer/oauth"
	"github.com/stoopler-tools/background-changer/obs"
	"github.com/stoopler-tools/background-changer/redemption"
	"github.com/stoopler-tools/background-changer/reward"
	"github.com/stoopler-tools/background-changer/server"
	"github.com/stoopler-tools/background-changer/state"
	"github.com/stoopler-tools/background-changer/telemetry"
	"github.com/stoopler-tools/background-changer/twitchapi"
)

var version = "dev"

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	// Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing(telemetry.TracingConfig{
		ServiceName:    "background-changer",
		ServiceVersion: version,
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:       os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	enc, err := db.EncryptorFromKey(cfg.EncryptionKey)
	if err != nil {
		slog.Error("encryption setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	database, err := db.Open(cfg.DBDsn, enc)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; databases created before them fall back to the
	// idempotent embedded schema.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded schema",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	} else {
		slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := state.NewStore(database.Blobs())
	if err := store.Load(ctx); err != nil {
		slog.Warn("restoring state failed, starting empty", slog.Any("err", err), slog.String("component", "state"))
	}
	seedOpenAI(store, cfg)

	// Twitch
	helix := &twitchapi.HelixClient{
		ClientID: cfg.TwitchClientID,
		Tokens: twitchapi.TokenFunc(func(tctx context.Context) (string, error) {
			return twitchapi.StaticToken(store.AccessToken()).Token(tctx)
		}),
	}
	users := twitchapi.NewUserCache(16, 10*time.Minute)
	flow := oauth.NewFlow(store, helix, users, database)
	oauthCfg := twitchapi.OAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes)
	if err := cfg.ValidateTwitchAuth(); err != nil {
		slog.Warn("twitch login disabled", slog.Any("err", err), slog.String("component", "oauth"))
	} else {
		oauth.StartRefresher(ctx, database, oauth.ProviderTwitch, 5*time.Minute, 15*time.Minute,
			oauth.TwitchRefreshFunc(oauthCfg, nil), flow.Refreshed)
	}
	revalidateCtx, cancelRevalidate := context.WithTimeout(ctx, 10*time.Second)
	if err := flow.Revalidate(revalidateCtx); err != nil {
		slog.Warn("stored twitch token rejected", slog.Any("err", err), slog.String("component", "oauth"))
	}
	cancelRevalidate()

	// OBS
	manager := obs.NewManager(store, obs.Options{
		ReconnectInterval: cfg.OBSReconnectInterval,
		HeartbeatInterval: cfg.OBSHeartbeatInterval,
	})
	manager.Start(ctx)
	defer manager.Shutdown()

	// Notifications for fulfilled redemptions
	var notifiers notify.Multi
	if cfg.ChatEnabled() {
		announcer := chat.NewAnnouncer(cfg.TwitchBotUsername, cfg.TwitchBotToken, cfg.TwitchChannel)
		go announcer.Run(ctx)
		notifiers = append(notifiers, announcer)
	} else {
		slog.Info("chat announcer disabled (missing TWITCH_BOT_USERNAME, TWITCH_BOT_OAUTH_TOKEN or TWITCH_CHANNEL)", slog.String("component", "chat"))
	}
	if cfg.DiscordEnabled() {
		discord, err := notify.NewDiscord(cfg.DiscordBotToken, cfg.DiscordChannelID)
		if err != nil {
			slog.Warn("discord notifier disabled", slog.Any("err", err), slog.String("component", "notify"))
		} else {
			defer func() { _ = discord.Close() }()
			notifiers = append(notifiers, discord)
		}
	}

	// Redemptions
	poller := redemption.NewPoller(store, helix, cfg.RedemptionPollInterval)
	pollTask := poller.Start(ctx)
	defer pollTask.Stop()

	hopts := redemption.HandlerOptions{
		DataDir:    cfg.DataDir,
		SourceName: cfg.OBSSourceName,
		SourceKind: cfg.OBSSourceKind,
	}
	if len(notifiers) > 0 {
		hopts.Notifier = notifiers
	}
	fulfiller := redemption.NewHandler(store, helix, poller, manager, hopts)
	if cfg.AutoFulfill {
		poller.OnUpdate(fulfiller.Observe)
		go fulfiller.Run(ctx)
		slog.Info("auto-fulfil enabled", slog.String("component", "fulfil"))
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	deps := server.Deps{
		Config:      cfg,
		Store:       store,
		DB:          database,
		OBS:         manager,
		Rewards:     reward.NewController(store, helix),
		Redemptions: poller,
		Fulfiller:   fulfiller,
		Auth:        flow,
		OAuth:       oauthCfg,
	}
	go func() {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// seedOpenAI fills an empty stored API key from OPENAI_API_KEY / OPENAI_ORG_ID.
func seedOpenAI(store *state.Store, cfg *config.Config) {
	s := store.OpenAISettings()
	if s.APIKey != "" || cfg.OpenAIAPIKey == "" {
		return
	}
	s.APIKey = cfg.OpenAIAPIKey
	if s.OrgID == "" {
		s.OrgID = cfg.OpenAIOrgID
	}
	if err := store.SetOpenAISettings(s); err != nil {
		slog.Warn("seed openai settings", slog.Any("err", err), slog.String("component", "state"))
	}
}
