package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/foreman/internal/search"
)

func searchCmd() *cobra.Command {
	var (
		kind    string
		limit   int
		reindex bool
	)

	command := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over tasks, epics and agent logs",
		Long: `Full-text search over tasks, epics and agent logs.

Quoted text matches as a phrase and a leading '-' excludes a term:

  foreman search '"reset link" -billing'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			s := search.New(store)
			s.SetVerbose(cfg.Verbose)

			if reindex {
				n, err := s.Rebuild()
				if err != nil {
					return err
				}
				fmt.Printf("🔎 Indexed %d records\n", n)
			}
			if len(args) == 0 {
				if !reindex {
					return fmt.Errorf("a query is required")
				}
				return nil
			}

			switch search.Kind(kind) {
			case "", search.KindTask, search.KindEpic, search.KindLog:
			default:
				return fmt.Errorf("unknown kind %q (task, epic, log)", kind)
			}

			results, err := s.Search(search.Query{Text: args[0], Kind: search.Kind(kind), Limit: limit})
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, r := range results {
				ref := r.ID
				if r.Kind == search.KindLog {
					ref = r.TaskID + "/" + r.ID
				}
				fmt.Printf("%-4s %s  %s\n     %s\n", r.Kind, ref, r.Title, r.Snippet)
			}
			return nil
		},
	}
	command.Flags().StringVar(&kind, "kind", "", "Restrict to task, epic or log")
	command.Flags().IntVar(&limit, "limit", 20, "Maximum results")
	command.Flags().BoolVar(&reindex, "reindex", false, "Rebuild the index before searching")
	return command
}
