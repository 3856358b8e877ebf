package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cormdev/corm/internal/schema"
)

var (
	benchRows  int
	benchBatch int
)

var benchCmd = &cobra.Command{
	Use:   "bench <entity>",
	Short: "Measure insert + commit throughput for a simple scalar-only entity",
	Long: `bench creates --rows instances of the named entity, committing every
--batch rows, and reports the elapsed time and rows/sec. It only fills
required scalar attributes of type string, int, float or bool with generated values, so
it is only useful against a schema built for this purpose (see
testdata/bench_schema.toml).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		entityName := args[0]

		e, ok := db.Schema().EntityByName(entityName)
		if !ok {
			return fmt.Errorf("bench: unknown entity %q", entityName)
		}

		c := openSession()
		defer c.Release()

		start := time.Now()
		inBatch := 0
		for i := 0; i < benchRows; i++ {
			fields, err := benchFields(e, i)
			if err != nil {
				return err
			}
			if _, err := c.New(ctx, e, fields); err != nil {
				return err
			}
			inBatch++
			if inBatch >= benchBatch {
				if err := c.Flush(ctx); err != nil {
					return err
				}
				inBatch = 0
			}
		}
		if err := c.Commit(ctx); err != nil {
			return err
		}
		elapsed := time.Since(start)

		result := map[string]any{
			"entity":       entityName,
			"rows":         benchRows,
			"elapsed_ms":   elapsed.Milliseconds(),
			"rows_per_sec": float64(benchRows) / elapsed.Seconds(),
		}
		if jsonOutput {
			outputJSON(result)
		} else {
			fmt.Printf("bench: inserted %d %s rows in %s (%.0f rows/sec)\n",
				benchRows, entityName, elapsed, result["rows_per_sec"])
		}
		return nil
	},
}

// benchFields fills every required scalar attribute with a value derived
// from i so required-attribute constraints are satisfied without a
// user-supplied field map.
func benchFields(e *schema.Entity, i int) (map[string]any, error) {
	fields := make(map[string]any)
	for _, a := range e.Attributes() {
		if a.IsPK || a.IsCollection || a.IsRef || !a.IsRequired {
			continue
		}
		switch a.Type.Scalar {
		case schema.ScalarString:
			fields[a.Name] = fmt.Sprintf("%s-%d", a.Name, i)
		case schema.ScalarInt:
			fields[a.Name] = int64(i)
		case schema.ScalarFloat:
			fields[a.Name] = float64(i)
		case schema.ScalarBool:
			fields[a.Name] = i%2 == 0
		default:
			return nil, fmt.Errorf("bench: %s.%s: unsupported scalar type for generated values", e.Name, a.Name)
		}
	}
	return fields, nil
}

func init() {
	benchCmd.Flags().IntVar(&benchRows, "rows", 1000, "number of rows to insert")
	benchCmd.Flags().IntVar(&benchBatch, "batch", 100, "rows per flush before the final commit")
	rootCmd.AddCommand(benchCmd)
}
