package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"signal-core/internal/api"
	"signal-core/internal/engine"
	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/internal/precision"
	"signal-core/internal/reconciliation"
	"signal-core/internal/risk"
	"signal-core/internal/state"
	"signal-core/pkg/config"
	"signal-core/pkg/crypto"
	"signal-core/pkg/db"
	futusdt "signal-core/pkg/exchanges/binance/futures_usdt"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/exchanges/paper"
	"signal-core/pkg/logger"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	tokenFor := flag.String("token", "", "print an admin API token for this subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed token")
	seal := flag.String("seal", "", "print this value sealed with SECRETS_KEY and exit")
	genKey := flag.Bool("genkey", false, "print a new base64 SECRETS_KEY and exit")
	flag.Parse()

	if *genKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			logrus.Fatalf("generate key: %v", err)
		}
		fmt.Println(key)
		return
	}
	if *seal != "" {
		_ = godotenv.Load()
		ring, err := crypto.KeyringFromEnv("SECRETS_KEY")
		if err != nil {
			logrus.Fatalf("load SECRETS_KEY: %v", err)
		}
		sealed, err := ring.Seal(*seal)
		if err != nil {
			logrus.Fatalf("seal: %v", err)
		}
		fmt.Println(sealed)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}

	if *tokenFor != "" {
		token, err := api.IssueToken(*tokenFor, cfg.JWTSecret, *tokenTTL)
		if err != nil {
			logrus.Fatalf("issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	log := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Output:     cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
		Compress:   true,
	})
	boot := log.WithComponent("main")
	boot.WithFields(logrus.Fields{
		"version":  version,
		"port":     cfg.Port,
		"dry_run":  cfg.DryRun,
		"accounts": len(cfg.Accounts),
		"backend":  cfg.StateBackend,
	}).Info("starting signal-core")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		boot.WithError(err).Fatal("database init failed")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		boot.WithError(err).Fatal("database migrations failed")
	}

	kv, closeKV, err := openStateKV(ctx, cfg, database)
	if err != nil {
		boot.WithError(err).Fatal("strategy state backend init failed")
	}
	defer closeKV()

	symbols, err := config.LoadSymbols(cfg.SymbolsFile)
	if err != nil {
		boot.WithError(err).Fatal("symbols file load failed")
	}
	precCfg, riskDefaults := symbolSettings(cfg, symbols)

	bus := events.NewBus()
	metrics := monitor.NewSignalMetrics()

	accounts := cfg.Accounts
	if cfg.DryRun && len(accounts) == 0 {
		accounts = []config.Account{{Label: "paper"}}
	}

	served := make(map[string]api.Account, len(accounts))
	for _, acc := range accounts {
		gw, venue := openGateway(ctx, cfg, acc, boot)

		symCache := risk.NewSymbolConfigCache(acc.Label, database)
		if err := symCache.Load(ctx); err != nil {
			boot.WithError(err).WithField("account", acc.Label).Warn("symbol config cache load failed, starting empty")
		}
		exec := order.NewExecutor(acc.Label, gw, database, bus, log)

		svc := engine.New(engine.Config{AbortOnFlattenFailure: cfg.AbortOnFlattenFailure}, engine.Deps{
			Account:   acc.Label,
			Gateway:   gw,
			Precision: precision.NewResolver(precCfg, gw, log),
			Governor: risk.NewGovernor(risk.Config{
				MaxMarginUtilization:  cfg.MaxMarginUtilization,
				DefaultPositionMargin: cfg.DefaultPositionMargin,
				Defaults:              riskDefaults,
			}, gw, symCache, log),
			Reconciler: reconciliation.NewReconciler(gw, cfg.PinOffset),
			Executor:   exec,
			Brackets: order.NewBrackets(order.BracketConfig{
				StopLoss:    cfg.StopLoss,
				TakeProfit:  cfg.TakeProfit,
				WorkingType: cfg.WorkingType,
			}, exec, gw, log),
			States: state.NewStore(state.Namespaced{KV: kv, Prefix: acc.Label}, bus),
			DB:     database,
			Bus:    bus,
		}, log)

		served[acc.Label] = api.Account{Engine: svc, Venue: venue}
		boot.WithField("account", acc.Label).Info("account engine ready")
	}

	mon := &monitor.Monitor{
		Bus:     bus,
		Sink:    alertSinks(cfg, boot),
		Metrics: metrics,
		Log:     log,
	}
	monDone := mon.Start(ctx)

	server := api.NewServer(api.Options{
		Accounts:       served,
		DefaultAccount: accounts[0].Label,
		Bus:            bus,
		Metrics:        metrics,
		JWTSecret:      cfg.JWTSecret,
		AllowedIPs:     cfg.WhiteIPList,
		TrustedProxies: cfg.TrustedProxies,
		WSOrigins:      cfg.WSOrigins,
		Version:        version,
	}, log)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			boot.WithError(err).Error("api server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	boot.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		boot.WithError(err).Warn("api shutdown incomplete")
	}
	<-monDone
}

// openGateway builds the venue for one account: a paper venue in dry-run
// mode, otherwise a Binance USDT-M client forced into one-way position mode.
func openGateway(ctx context.Context, cfg *config.Config, acc config.Account, log *logrus.Entry) (common.Gateway, api.Venue) {
	if cfg.DryRun {
		p := paper.New(cfg.PaperBalance, cfg.PaperBalance)
		return p, p
	}

	client := futusdt.NewClient(futusdt.Credentials{
		APIKey:    acc.APIKey,
		APISecret: acc.APISecret,
	}, futusdt.Config{
		Testnet:    !cfg.Production,
		RecvWindow: cfg.RecvWindow,
		RPS:        cfg.GatewayRPS,
	})
	client.StartTimeSync(ctx)

	entry := log.WithField("account", acc.Label)
	dual, err := client.GetPositionMode(ctx)
	switch {
	case err != nil:
		entry.WithError(err).Warn("position mode check failed")
	case dual:
		if err := client.SetPositionSideDual(ctx, false); err != nil {
			entry.WithError(err).Error("account is in hedge mode and could not be switched to one-way")
		} else {
			entry.Info("switched account to one-way position mode")
		}
	}
	return client, client
}

func openStateKV(ctx context.Context, cfg *config.Config, database *db.Database) (state.KV, func(), error) {
	switch cfg.StateBackend {
	case "file":
		return state.NewFileKV(cfg.StateFile), func() {}, nil
	case "postgres":
		kv, err := state.NewPostgresKV(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return kv, kv.Close, nil
	default:
		return state.NewSQLiteKV(database), func() {}, nil
	}
}

// symbolSettings splits the symbols file into precision overrides and
// per-symbol risk defaults.
func symbolSettings(cfg *config.Config, symbols map[string]config.SymbolOverride) (precision.Config, map[string]risk.SymbolConfig) {
	prec := precision.DefaultConfig()
	prec.MaxPriceDecimals = cfg.MaxPriceDecimals
	if cfg.LegacyQtyPrecision {
		prec.TwoDigitQuantityDecimals = 1
	}

	defaults := make(map[string]risk.SymbolConfig)
	for sym, o := range symbols {
		if o.QuantityDecimals != nil {
			prec.Overrides[sym] = *o.QuantityDecimals
		}
		if o.Leverage > 0 || o.MarginMode != "" {
			defaults[sym] = risk.SymbolConfig{Leverage: o.Leverage, MarginMode: common.MarginType(o.MarginMode)}
		}
	}
	return prec, defaults
}

func alertSinks(cfg *config.Config, log *logrus.Entry) monitor.AlertSink {
	var sinks monitor.MultiSink
	if cfg.AlertWebhookURL != "" {
		sinks = append(sinks, monitor.NewWebhookSink(cfg.AlertWebhookURL))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := monitor.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.WithError(err).Warn("telegram alerts disabled")
		} else {
			sinks = append(sinks, tg)
		}
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}
