package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/facesort/internal/cache"
	"github.com/andresmejia3/facesort/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetCache bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Registry, Embedding Cache)",
	Long:  "Clears stored data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		explicit := resetDB || resetCache
		if !explicit {
			resetDB = true
			resetCache = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if DB == nil {
				if explicit {
					utils.Die("Cannot reset without a registry", fmt.Errorf("no database configured"), nil)
				}
				fmt.Println("⚠️  No database configured, skipping registry reset.")
			} else if confirm(reader, "⚠️  Are you sure you want to DROP all registry tables?") {
				fmt.Println("🗑️  Clearing Registry...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset registry", err, nil)
				}
			}
		}

		if resetCache {
			if confirm(reader, "⚠️  Are you sure you want to wipe the embedding cache?") {
				fmt.Println("🗑️  Clearing Embedding Cache...")
				wipeCache()
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear the PostgreSQL person registry")
	resetCmd.Flags().BoolVar(&resetCache, "cache", false, "Wipe the embedding cache")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func wipeCache() {
	dir, err := cfg.ResolveCacheDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Could not locate cache dir: %v\n", err)
		return
	}
	c, err := cache.Open(cache.Options{Dir: dir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Could not open cache at %s: %v\n", dir, err)
		return
	}
	defer c.Close()
	if err := c.Wipe(); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to wipe cache: %v\n", err)
	}
}
