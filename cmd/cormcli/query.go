package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cormdev/corm/internal/query"
)

const maxRows = 1_000_000 // guard against an unbounded offset-only scan

var (
	queryWhere   string
	queryOrderBy string
	queryDesc    bool
	queryLimit   int
	queryOffset  int
)

var queryCmd = &cobra.Command{
	Use:   "query <entity>",
	Short: "Fetch rows matching a predicate",
	Long: `query compiles --where as a predicate expression against the named
entity (e.g. "age >= 30 and name != \"Bob\"") and prints every matching row.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		entityName := args[0]

		e, ok := db.Schema().EntityByName(entityName)
		if !ok {
			return fmt.Errorf("query: unknown entity %q", entityName)
		}

		q := query.On(e)
		if queryWhere != "" {
			q = q.Where(queryWhere)
		}
		if queryOrderBy != "" {
			if queryDesc {
				q = q.OrderByDesc(queryOrderBy)
			} else {
				q = q.OrderBy(queryOrderBy)
			}
		}
		if queryLimit > 0 || queryOffset > 0 {
			limit := queryLimit
			if limit == 0 {
				limit = maxRows // no --limit given: cap rather than leave unbounded
			}
			sliced, err := q.Slice(queryOffset, queryOffset+limit)
			if err != nil {
				return err
			}
			q = sliced
		}

		c := openSession()
		defer c.Release()

		rows, err := q.Fetch(ctx, c)
		if err != nil {
			return err
		}

		results := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			rec := make(map[string]any, len(e.Attributes()))
			for _, a := range e.Attributes() {
				if a.IsCollection {
					continue
				}
				v, err := row.Get(ctx, a)
				if err != nil {
					return err
				}
				rec[a.Name] = v
			}
			results = append(results, rec)
		}

		if jsonOutput {
			outputJSON(results)
		} else {
			for _, rec := range results {
				fmt.Println(rec)
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryWhere, "where", "", "predicate expression")
	queryCmd.Flags().StringVar(&queryOrderBy, "order-by", "", "attribute name to sort by")
	queryCmd.Flags().BoolVar(&queryDesc, "desc", false, "sort descending")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum rows to return (0 = unlimited)")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "rows to skip before returning results")
	rootCmd.AddCommand(queryCmd)
}
