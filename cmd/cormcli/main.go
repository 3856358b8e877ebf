// Command cormcli is a small demonstration front end for the engine: load
// an entity declaration from a TOML file, open a SQLite-backed database
// against it, and run a handful of maintenance/inspection subcommands. Its
// shape (a package-level rootCmd wired up by each subcommand's own init,
// persistent flags shared across subcommands, a PersistentPreRun that opens
// shared resources once) follows cmd/bd's main.go/version.go pattern.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cormdev/corm/internal/config"
	"github.com/cormdev/corm/internal/corm"
	"github.com/cormdev/corm/internal/provider/sqliteprovider"
	"github.com/cormdev/corm/internal/schemafile"
	"github.com/cormdev/corm/internal/session"
)

var (
	schemaPath string
	dbDSN      string
	configPath string
	jsonOutput bool
	checkTbls  bool

	cfg *config.Loader
	db  *corm.Database
)

var rootCmd = &cobra.Command{
	Use:   "cormcli",
	Short: "cormcli - demo front end for the entity/session engine",
	Long:  "Loads an entity declaration from TOML and runs maintenance and inspection commands against a SQLite-backed database.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// version/help-style commands don't need a live database.
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("cormcli: load config: %w", err)
		}
		cfg = loaded
		slog.SetDefault(logger())

		s, err := schemafile.ParseFile(schemaPath)
		if err != nil {
			return fmt.Errorf("cormcli: load schema: %w", err)
		}

		p, err := sqliteprovider.Open(dbDSN)
		if err != nil {
			return fmt.Errorf("cormcli: open database: %w", err)
		}

		built, err := corm.FromSchema(cmd.Context(), "cormcli", s, p, corm.MappingOptions{CheckTables: checkTbls})
		if err != nil {
			return fmt.Errorf("cormcli: bind schema: %w", err)
		}
		db = built
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "schema.toml", "path to the TOML entity declaration")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db", "file::memory:?cache=shared", "SQLite data source name")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "cormcli.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&checkTbls, "check-tables", false, "validate every table is queryable before running the command")
}

func main() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openSession opens a unit of work against db with the configured fetch cap
// applied (spec.md §7 "TooManyObjectsFound — exceeded the configured fetch
// cap"), so every subcommand enforces the same limit rather than each
// reimplementing it.
func openSession() *session.Cache {
	maxFetch := 0
	if cfg != nil {
		maxFetch = cfg.Current().MaxFetchCount
	}
	return db.OpenSession(session.WithMaxFetchCount(maxFetch))
}

func logger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		_ = level.UnmarshalText([]byte(cfg.Current().LogLevel))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
