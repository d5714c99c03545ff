package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journey/internal/orchestrator"
	"github.com/mesh-intelligence/journey/pkg/types"
)

func newThreadsCmd(s *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Browse and manage conversation threads",
	}

	var archived bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List threads, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withUser(func(a *app, userID string) error {
				threads, err := a.history.ListThreads(cmd.Context(), userID, archived)
				if err != nil {
					return err
				}
				return s.emit(cmd.OutOrStdout(), nonNil(threads), func(w io.Writer) {
					if len(threads) == 0 {
						fmt.Fprintln(w, "No threads.")
						return
					}
					for _, th := range threads {
						printThread(w, th)
					}
				})
			})
		},
	}
	list.Flags().BoolVar(&archived, "archived", false, "include archived threads")

	var limit int
	hist := &cobra.Command{
		Use:   "history <thread-id>",
		Short: "Print the active messages of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withUser(func(a *app, userID string) error {
				msgs, err := a.history.LoadActive(cmd.Context(), userID, args[0], limit)
				if err != nil {
					return err
				}
				return s.emit(cmd.OutOrStdout(), nonNil(msgs), func(w io.Writer) {
					for _, m := range msgs {
						fmt.Fprintf(w, "[%s] %s %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.ID, m.Role, m.Content)
					}
				})
			})
		},
	}
	hist.Flags().IntVar(&limit, "limit", 0, "only the most recent messages (default all)")

	archive := &cobra.Command{
		Use:   "archive <thread-id>",
		Short: "Archive a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withUser(func(a *app, userID string) error {
				if err := a.history.Archive(cmd.Context(), userID, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Archived %s\n", args[0])
				return nil
			})
		},
	}

	edit := &cobra.Command{
		Use:   "edit <message-id> <new text...>",
		Short: "Replace a message and everything after it with a new turn",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withUser(func(a *app, userID string) error {
				orch, err := a.orchestrator(cmd.Context())
				if err != nil {
					return err
				}
				branch, err := a.history.EditAndBranch(cmd.Context(), userID, args[0])
				if err != nil {
					return err
				}
				res, err := orch.HandleTurn(cmd.Context(), orchestrator.TurnRequest{
					UserID:   userID,
					ThreadID: branch.ThreadID,
					Message:  strings.Join(args[1:], " "),
				})
				if err != nil {
					return err
				}
				out := map[string]any{"branch": branch, "turn": res}
				return s.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
					fmt.Fprintf(w, "Removed %d messages, cancelled %d proposals.\n\n",
						len(branch.DeletedMessageIDs), len(branch.RejectedActionIDs))
					printTurn(w, res)
				})
			})
		},
	}

	cmd.AddCommand(list, hist, archive, edit)
	return cmd
}

func printThread(w io.Writer, th *types.Thread) {
	title := th.Title
	if title == "" {
		title = "(untitled)"
	}
	line := fmt.Sprintf("%s  %s  %s", th.ID, th.UpdatedAt.Format("2006-01-02 15:04"), title)
	if th.AnchorPath != "" {
		line += "  @" + th.AnchorPath
	}
	if th.ArchivedAt != nil {
		line += "  (archived)"
	}
	fmt.Fprintln(w, line)
}
