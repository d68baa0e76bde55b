package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/andresmejia3/facesort/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <person_id> <name>",
	Short: "Assign a name to a person discovered by a sort",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			utils.Die("Invalid person ID", err, nil)
		}
		name := args[1]

		runLabel(id, name)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(id int, name string) {
	db, err := requireDB()
	if err != nil {
		utils.Die("Cannot label without a registry", err, nil)
	}

	ctx := context.Background()
	if err := db.RenamePerson(ctx, id, name); err != nil {
		utils.Die("Failed to label person", err, nil)
	}

	fmt.Printf("✅ Person %d labeled as '%s'\n", id, name)
}
