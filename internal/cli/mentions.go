package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/pkg/types"
)

func newMentionsCmd(s *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mentions",
		Short: "Resolve and search type#code references",
	}

	resolve := &cobra.Command{
		Use:     "resolve <text...>",
		Short:   "Resolve every mention in text",
		Example: "  journey mentions resolve \"move task#3 under project#1\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withUser(func(a *app, userID string) error {
				resolved, err := a.resolver.ResolveText(cmd.Context(), userID, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return s.emit(cmd.OutOrStdout(), nonNil(resolved), func(w io.Writer) {
					for _, m := range resolved {
						if !m.Found {
							fmt.Fprintf(w, "%s#%d  (not found)\n", m.EntityType, m.ShortCode)
							continue
						}
						fmt.Fprintf(w, "%s#%d  %s  %s\n", m.EntityType, m.ShortCode, m.Title, m.URL)
					}
				})
			})
		},
	}

	search := &cobra.Command{
		Use:   "search <type> [query]",
		Short: "Autocomplete candidates of one entity type",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 2 {
				query = args[1]
			}
			return s.withUser(func(a *app, userID string) error {
				results, err := a.resolver.Search(cmd.Context(), userID, types.EntityType(args[0]), query)
				if err != nil {
					return err
				}
				return s.emit(cmd.OutOrStdout(), nonNil(results), func(w io.Writer) { printResults(w, results) })
			})
		},
	}

	searchAll := &cobra.Command{
		Use:   "search-all [query]",
		Short: "Search tasks, projects, goals and memories at once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			return s.withUser(func(a *app, userID string) error {
				grouped, err := a.resolver.SearchAll(cmd.Context(), userID, query)
				if err != nil {
					return err
				}
				return s.emit(cmd.OutOrStdout(), grouped, func(w io.Writer) {
					for _, group := range [][]mention.SearchResult{grouped.Tasks, grouped.Projects, grouped.Goals, grouped.Memories} {
						printResults(w, group)
					}
				})
			})
		},
	}

	cmd.AddCommand(resolve, search, searchAll)
	return cmd
}

func printResults(w io.Writer, results []mention.SearchResult) {
	for _, r := range results {
		line := fmt.Sprintf("%s#%d  %s", r.EntityType, r.ShortCode, r.Title)
		if r.Status != "" {
			line += "  [" + r.Status + "]"
		}
		fmt.Fprintln(w, line)
	}
}
