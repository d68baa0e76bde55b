package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facesort/internal/config"
	"github.com/andresmejia3/facesort/internal/store"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the sort and find commands
type Options struct {
	InputDir       string
	OutputDir      string
	Eps            float64
	MinFaces       int
	Workers        int
	Index          string
	NoCache        bool
	CacheDir       string
	WorkerScript   string
	MatchThreshold float64
}

var (
	// DB is the global person-registry connection shared by subcommands.
	// It stays nil when no database is configured; sorting works without one.
	DB *store.Store
	// dbURL is the connection string
	dbURL string
	// cfgPath is an explicit config file location
	cfgPath string
	// cfg holds the loaded configuration, merged under flags by each command
	cfg config.Config
)

// Version is the application version.
const Version = "0.0.1"

var rootCmd = &cobra.Command{
	Use:     "facesort",
	Short:   "Face Clustering & Photo Sorting Engine",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Resolve the registry connection: flag, then config file, then environment
		if dbURL == "" {
			dbURL = cfg.DatabaseURL
		}
		if dbURL == "" {
			if host := os.Getenv("POSTGRES_HOST"); host != "" {
				user := os.Getenv("POSTGRES_USER")
				pass := os.Getenv("POSTGRES_PASSWORD")
				name := os.Getenv("POSTGRES_DB")
				port := os.Getenv("POSTGRES_PORT")
				if port == "" {
					port = "5432"
				}
				dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
			}
		}

		// No URL means local-only mode: clustering and copying still work,
		// only the person registry is unavailable.
		if dbURL == "" {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// requireDB returns the registry connection or an error telling the user
// how to configure one.
func requireDB() (*store.Store, error) {
	if DB == nil {
		return nil, fmt.Errorf("no database configured: pass --db, set database_url in the config file, or export POSTGRES_HOST")
	}
	return DB, nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the person registry (optional)")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default: ~/.facesort/config.yaml)")
}
