package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journey/pkg/types"
)

func newActionsCmd(s *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List and decide proposed changes",
	}

	var (
		threadID string
		status   string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List the actions of a thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if threadID == "" {
				return fmt.Errorf("%w: --thread is required", errUsage)
			}
			return s.withUser(func(a *app, userID string) error {
				actions, err := a.actions.List(cmd.Context(), userID, threadID, types.ActionStatus(status))
				if err != nil {
					return err
				}
				return s.emit(cmd.OutOrStdout(), nonNil(actions), func(w io.Writer) {
					if len(actions) == 0 {
						fmt.Fprintln(w, "No actions.")
						return
					}
					for _, act := range actions {
						printAction(w, act)
					}
				})
			})
		},
	}
	list.Flags().StringVar(&threadID, "thread", "", "thread id")
	list.Flags().StringVar(&status, "status", "", "pending, confirmed, rejected or reverted (default all)")

	cmd.AddCommand(
		list,
		decisionCmd(s, "confirm", "Apply a pending action", func(a *app) decideFunc { return a.actions.Confirm }),
		decisionCmd(s, "reject", "Discard a pending action", func(a *app) decideFunc { return a.actions.Reject }),
		decisionCmd(s, "revert", "Undo a confirmed action", func(a *app) decideFunc { return a.actions.Revert }),
	)
	return cmd
}

type decideFunc func(ctx context.Context, userID, actionID string) (*types.Action, error)

func decisionCmd(s *state, use, short string, pick func(*app) decideFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <action-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.withUser(func(a *app, userID string) error {
				act, err := pick(a)(cmd.Context(), userID, args[0])
				if err != nil {
					return err
				}
				return s.emit(cmd.OutOrStdout(), act, func(w io.Writer) { printAction(w, act) })
			})
		},
	}
}

func printAction(w io.Writer, a *types.Action) {
	fmt.Fprintf(w, "%s  %-9s  %s\n", a.ID, a.Status, a.Description)
}

// withUser opens the app, resolves the acting user and runs fn.
func (s *state) withUser(fn func(a *app, userID string) error) error {
	a, err := s.open()
	if err != nil {
		return err
	}
	defer a.Close()
	userID, err := s.userID(a.cfg)
	if err != nil {
		return err
	}
	return fn(a, userID)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
