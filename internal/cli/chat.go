package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journey/internal/orchestrator"
)

func newChatCmd(s *state) *cobra.Command {
	var req orchestrator.TurnRequest
	cmd := &cobra.Command{
		Use:   "chat <message...>",
		Short: "Send one chat message and print the reply",
		Long: "Chat runs one turn. Proposed changes are printed with their action ids;\n" +
			"apply them with `journey actions confirm <id>`.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if req.UserID, err = s.userID(a.cfg); err != nil {
				return err
			}
			orch, err := a.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			req.Message = strings.Join(args, " ")
			res, err := orch.HandleTurn(cmd.Context(), req)
			if err != nil {
				return err
			}
			return s.emit(cmd.OutOrStdout(), res, func(w io.Writer) { printTurn(w, res) })
		},
	}
	cmd.Flags().StringVar(&req.ThreadID, "thread", "", "continue this thread")
	cmd.Flags().StringVar(&req.AnchorPath, "anchor", "", "page or context the conversation is about")
	cmd.Flags().StringVar(&req.Model, "model", "", "model to use (must be allowed in config)")
	return cmd
}

func printTurn(w io.Writer, res *orchestrator.TurnResult) {
	fmt.Fprintln(w, res.Response)
	for _, p := range res.ProposedActions {
		fmt.Fprintf(w, "\n  proposed %s  %s\n", p.ID, p.Description)
	}
	fmt.Fprintf(w, "\n[thread %s, %s, %d tokens]\n", res.ThreadID, res.Model, res.Usage.PromptTokens+res.Usage.CompletionTokens)
}
