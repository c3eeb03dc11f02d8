package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modwarden/warden/automod/config"
	"github.com/modwarden/warden/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "anti-spam moderation daemon for Discord guilds",
		Version: versioninfo.Short(),
	}

	app.Flags = cliutil.LogFlags

	app.Commands = []*cli.Command{
		runCmd,
		checkConfigCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "discord-token",
			Usage:    "bot token for the Discord API",
			Required: true,
			EnvVars:  []string{"DISCORD_TOKEN", "WARDEN_DISCORD_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "guild-config",
			Usage:   "path to guild moderation config file (YAML, JSON, or TOML)",
			Value:   "data/warden/guilds.yaml",
			EnvVars: []string{"WARDEN_GUILD_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "watch-config",
			Usage:   "reload guild config when the file changes",
			Value:   true,
			EnvVars: []string{"WARDEN_WATCH_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/warden/warden.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.BoolFlag{
			Name:    "enable-db-tracing",
			Usage:   "emit OTEL spans for database queries",
			EnvVars: []string{"WARDEN_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis server for counters and caches; in-process memory is used if not set",
			EnvVars: []string{"WARDEN_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "also send moderation failures and anti-spam actions to this Slack incoming webhook",
			EnvVars: []string{"WARDEN_SLACK_WEBHOOK_URL", "SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "number of guilds processed concurrently",
			Value:   16,
			EnvVars: []string{"WARDEN_WORKERS"},
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "how often expired correlation entries are removed",
			Value:   2 * time.Minute,
			EnvVars: []string{"WARDEN_SWEEP_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "expiry-interval",
			Usage:   "how often expired temporary punishments are reversed",
			Value:   30 * time.Second,
			EnvVars: []string{"WARDEN_EXPIRY_INTERVAL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := cliutil.SetupSlog(cliutil.LogOptionsFromCLI(cctx))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownOTEL := configOTEL(ctx, "warden")
		defer shutdownOTEL()

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		if cctx.Bool("enable-db-tracing") {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return err
			}
		}

		srv, err := NewServer(db, Config{
			Logger:          logger,
			DiscordToken:    cctx.String("discord-token"),
			GuildConfigPath: cctx.String("guild-config"),
			WatchConfig:     cctx.Bool("watch-config"),
			RedisURL:        cctx.String("redis-url"),
			SlackWebhookURL: cctx.String("slack-webhook-url"),
			Workers:         cctx.Int("workers"),
			SweepInterval:   cctx.Duration("sweep-interval"),
			ExpiryInterval:  cctx.Duration("expiry-interval"),
			MetricsListen:   cctx.String("metrics-listen"),
		})
		if err != nil {
			return err
		}

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run moderation service: %w", err)
		}
		return nil
	},
}

var checkConfigCmd = &cli.Command{
	Name:      "check-config",
	Usage:     "validate a guild config file and exit",
	ArgsUsage: "<path>",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 1 {
			return fmt.Errorf("expected exactly one config file path")
		}
		logger, err := cliutil.SetupSlog(cliutil.LogOptionsFromCLI(cctx))
		if err != nil {
			return err
		}
		if _, err := config.NewFileProvider(cctx.Args().First(), logger); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}
