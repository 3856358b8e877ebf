package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create every declared table that does not already exist",
	Long: `migrate issues a CREATE TABLE IF NOT EXISTS for each entity's root
table and every many-to-many link table the schema declares. Column types
are derived from each attribute's scalar type; it does not attempt to ALTER
an existing table into matching shape.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		conn, err := db.Provider().Connect(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()

		created := 0
		for _, e := range db.Schema().Entities() {
			sqlText, err := createTableSQL(e)
			if err != nil {
				return fmt.Errorf("migrate: entity %s: %w", e.Name, err)
			}
			if _, err := conn.Execute(ctx, sqlText, nil); err != nil {
				return fmt.Errorf("migrate: entity %s: %w", e.Name, err)
			}
			created++
		}

		for _, sqlText := range m2mLinkTables(db.Schema(), db.Provider().DefaultM2MTableName) {
			if _, err := conn.Execute(ctx, sqlText, nil); err != nil {
				return fmt.Errorf("migrate: link table: %w", err)
			}
			created++
		}

		if jsonOutput {
			outputJSON(map[string]any{"tables_created": created})
		} else {
			fmt.Printf("migrate: ensured %d table(s)\n", created)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
