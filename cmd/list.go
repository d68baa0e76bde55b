package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facesort/internal/utils"
	"github.com/spf13/cobra"
)

var listRuns bool
var listRunLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known people in the registry",
	Run: func(cmd *cobra.Command, args []string) {
		if listRuns {
			runListRuns()
			return
		}
		runList()
	},
}

func init() {
	listCmd.Flags().BoolVar(&listRuns, "runs", false, "Show recent sorting runs instead of people")
	listCmd.Flags().IntVar(&listRunLimit, "limit", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(listCmd)
}

func runList() {
	db, err := requireDB()
	if err != nil {
		utils.Die("Cannot list without a registry", err, nil)
	}

	ctx := context.Background()
	people, err := db.ListPeople(ctx)
	if err != nil {
		utils.Die("Failed to list people", err, nil)
	}

	if len(people) == 0 {
		fmt.Println("No people found in the registry.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFACE COUNT\tCREATED")
	fmt.Fprintln(w, "--\t----\t----------\t-------")

	for _, p := range people {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", p.ID, p.Name, p.Count, p.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func runListRuns() {
	db, err := requireDB()
	if err != nil {
		utils.Die("Cannot list without a registry", err, nil)
	}

	ctx := context.Background()
	runs, err := db.ListRuns(ctx, listRunLimit)
	if err != nil {
		utils.Die("Failed to list runs", err, nil)
	}

	if len(runs) == 0 {
		fmt.Println("No sorting runs recorded yet.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RUN\tINPUT\tIMAGES\tFACES\tPEOPLE\tNOISE\tSTARTED")
	fmt.Fprintln(w, "---\t-----\t------\t-----\t------\t-----\t-------")

	for _, r := range runs {
		started := r.StartedAt.Local().Format("2006-01-02 15:04")
		if r.FinishedAt == nil {
			started += " (unfinished)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID.String()[:8], r.InputDir, r.Images, r.Faces, r.Clusters, r.Noise, started)
	}
	w.Flush()
}
