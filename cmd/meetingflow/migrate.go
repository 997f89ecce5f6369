package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/BaSui01/meetingflow/internal/migration"
)

// =============================================================================
// 🗃️ migrate
// =============================================================================

// migrateAliases 旧子命令名到 migration.CLI 命令的映射
var migrateAliases = map[string]string{"reset": "down-all"}

// runMigrate 处理 migrate 子命令。位置参数（如 goto 的版本号）在前，标志在后：
//
//	meetingflow migrate goto 1 --config config.yaml
func runMigrate(args []string) error {
	if len(args) == 0 {
		printMigrateUsage(os.Stderr)
		return errUsage
	}
	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		printMigrateUsage(os.Stdout)
		return nil
	}
	if alias, ok := migrateAliases[sub]; ok {
		sub = alias
	}

	positional, flagArgs := splitPositional(args[1:])
	opts, err := parseMigrateFlags(sub, flagArgs)
	if err != nil {
		return err
	}
	if sub == "down" && opts.all {
		sub = "down-all"
	}

	m, err := opts.migrator()
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := migration.NewCLI(m).Run(ctx, sub, positional); err != nil {
		return fmt.Errorf("%s: %w", sub, err)
	}
	return nil
}

// splitPositional 拆分前导位置参数与之后的标志，负数（steps -1）视为位置参数
func splitPositional(args []string) (positional, flags []string) {
	for i, a := range args {
		if _, err := strconv.Atoi(a); err == nil {
			continue
		}
		if strings.HasPrefix(a, "-") {
			return args[:i], args[i:]
		}
	}
	return args, nil
}

type migrateFlags struct {
	configPath string
	envFile    string
	dbType     string
	dbURL      string
	all        bool
}

func parseMigrateFlags(sub string, args []string) (migrateFlags, error) {
	var o migrateFlags
	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to config file")
	fs.StringVar(&o.envFile, "env", ".env", "Path to .env file (ignored if missing)")
	fs.StringVar(&o.dbType, "db-type", "", "Database type (postgres, mysql, sqlite)")
	fs.StringVar(&o.dbURL, "db-url", "", "Database connection URL")
	fs.BoolVar(&o.all, "all", false, "Rollback all migrations (down only)")
	if err := fs.Parse(args); err != nil {
		return o, errUsage
	}
	return o, nil
}

// migrator 同时给出 --db-type 与 --db-url 时不读配置文件
func (o migrateFlags) migrator() (*migration.DefaultMigrator, error) {
	if o.dbType != "" && o.dbURL != "" {
		return migration.NewMigratorFromURL(o.dbType, o.dbURL)
	}

	cfg, err := loadConfig(o.configPath, o.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.dbType != "" {
		cfg.Database.Driver = o.dbType
	}
	if cfg.Database.Driver == "" {
		return nil, errors.New("database driver not configured")
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage:
  meetingflow migrate <subcommand> [args] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration (--all to rollback everything)
  steps <n>   Apply (n > 0) or rollback (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show migration summary
  reset       Rollback all migrations

Options:
  --config <path>     Path to configuration file (YAML)
  --env <path>        Path to .env file (default .env)
  --db-type <type>    postgres, mysql or sqlite (default: from config)
  --db-url <url>      Connection URL (default: from config)

Examples:
  meetingflow migrate up --config /etc/meetingflow/config.yaml
  meetingflow migrate down --all
  meetingflow migrate status --db-type sqlite --db-url "file:meetingflow.db"`)
}
