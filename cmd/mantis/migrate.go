package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// migrate and sync are reserved command names so that scripts written
// against them keep working once the features land.

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply pending schema migrations (reserved)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("migrate is not implemented yet; schema changes are applied through the /api/v1/_tables endpoints")
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "synchronize schemas from a config file (reserved)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("sync is not implemented yet")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(syncCmd)
}
