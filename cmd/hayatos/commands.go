package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"hayatos/config"
	"hayatos/data/db/basic"
	"hayatos/data/db/migrate"
	"hayatos/logging"
	"hayatos/server"
)

// flagKeys 命令行参数到配置键的映射
var flagKeys = map[string]string{
	"log-level":        "log.level",
	"log-format":       "log.format",
	"db-driver":        "database.driver",
	"db-dsn":           "database.dsn",
	"addr":             "server.addr",
	"principal-header": "server.principal_header",
	"queue-driver":     "queue.driver",
	"queue-workers":    "queue.workers",
	"redis-addr":       "redis.addr",
	"nats-url":         "nats.url",
}

func newRootCommand() *cobra.Command {
	v := config.NewViper()
	var configPath string

	root := &cobra.Command{
		Use:           "hayatos",
		Short:         "HayatOS API server and job workers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	pf.String("log-level", "", "log level: debug|info|warn|error")
	pf.String("log-format", "", "log format: json|console")
	pf.String("db-driver", "", "database driver: sqlite|postgres")
	pf.String("db-dsn", "", "database DSN (sqlite file path or postgres URL)")
	pf.String("queue-driver", "", "job queue: memory|redis|nats")
	pf.Int("queue-workers", 0, "memory queue worker goroutines")
	pf.String("redis-addr", "", "redis address for query cache and redis queue")
	pf.String("nats-url", "", "NATS server URL for the nats queue")
	mustBind(v, pf)

	root.AddCommand(
		newServeCommand(v, &configPath),
		newWorkerCommand(v, &configPath),
		newMigrateCommand(v, &configPath),
	)
	return root
}

func newServeCommand(v *viper.Viper, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with job workers and schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(v, *configPath, server.ModeServe)
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address")
	cmd.Flags().String("principal-header", "", "header carrying the authenticated user id")
	mustBind(v, cmd.Flags())
	return cmd
}

func newWorkerCommand(v *viper.Viper, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run job workers and schedules without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(v, *configPath, server.ModeWorker)
		},
	}
}

func run(v *viper.Viper, configPath string, mode server.Mode) error {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}
	app := server.NewAppWithConfig(cfg, mode, nil)
	return server.NewEngine(app,
		server.WithVersion(version),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	).Start()
}

func newMigrateCommand(v *viper.Viper, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(v, *configPath, func(m *migrate.Migrator) error {
					if err := m.Up(cmd.Context()); err != nil {
						return err
					}
					return printVersion(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back the given number of migrations (default 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("steps must be a positive integer, got %q", args[0])
					}
					steps = n
				}
				return withMigrator(v, *configPath, func(m *migrate.Migrator) error {
					if err := m.Down(cmd.Context(), steps); err != nil {
						return err
					}
					return printVersion(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(v, *configPath, func(m *migrate.Migrator) error {
					return printVersion(cmd, m)
				})
			},
		},
	)
	return cmd
}

func withMigrator(v *viper.Viper, configPath string, fn func(m *migrate.Migrator) error) error {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}
	logger, err := logging.NewZapLogger(cfg.Log.Zap())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := basic.New(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	m, err := migrate.New(db.SQLDB(), db.GetDialectName(), logger)
	if err != nil {
		return err
	}
	return fn(m)
}

func printVersion(cmd *cobra.Command, m *migrate.Migrator) error {
	ver, dirty, ok, err := m.Version()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", ver, dirty)
	return nil
}

// mustBind 把已声明的参数绑定到对应配置键，未设置的参数不覆盖配置文件与环境变量
func mustBind(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	})
}
