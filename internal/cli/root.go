// Package cli implements the journey command-line interface: the server,
// a terminal chat client, and maintenance commands over the same core.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/journey/internal/paths"
	"github.com/mesh-intelligence/journey/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	user      string
	jsonMode  bool
}

// state is shared by the subcommands of one invocation.
type state struct {
	flags rootFlags
}

// NewRootCmd creates the top-level "journey" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	s := &state{}
	root := &cobra.Command{
		Use:   "journey",
		Short: "A conversational productivity assistant",
		Long: "Journey keeps tasks, projects, goals, journal entries and memories, and lets\n" +
			"you manage them by chatting. Every change the assistant proposes waits for\n" +
			"your confirmation and can be undone.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&s.flags.configDir, "config-dir", "", "configuration directory (default: $XDG_CONFIG_HOME/journey)")
	root.PersistentFlags().StringVar(&s.flags.dataDir, "data-dir", "", "data directory (default: $XDG_DATA_HOME/journey)")
	root.PersistentFlags().StringVar(&s.flags.user, "user", "", "act as this user id (default: user from config)")
	root.PersistentFlags().BoolVar(&s.flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(s),
		newServeCmd(s),
		newChatCmd(s),
		newActionsCmd(s),
		newMentionsCmd(s),
		newThreadsCmd(s),
		newTokenCmd(s),
		newTelegramCmd(s),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

// userErrors are failures caused by input rather than the environment.
var userErrors = []error{
	types.ErrAuthRequired,
	types.ErrNotFound,
	types.ErrOwnershipViolation,
	types.ErrInvalidTransition,
	types.ErrMissingSnapshot,
	types.ErrInvalidData,
	types.ErrInvalidEntityType,
	types.ErrInvalidMessageRole,
	types.ErrThreadArchived,
	types.ErrProviderUnknown,
	types.ErrModelNotAllowed,
	types.ErrMaxIterationsInvalid,
	types.ErrLogFormatUnknown,
	types.ErrWebhookSecretMissing,
	errUsage,
}

var errUsage = errors.New("usage")

func exitCode(err error) int {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

func (s *state) configDir() (string, error) {
	return paths.ResolveConfigDir(s.flags.configDir)
}

// userID returns the acting user from the flag or config.
func (s *state) userID(cfg types.Config) (string, error) {
	if s.flags.user != "" {
		return s.flags.user, nil
	}
	if cfg.User != "" {
		return cfg.User, nil
	}
	return "", fmt.Errorf("%w: set --user or user in config.yaml", types.ErrAuthRequired)
}

// emit writes v as indented JSON in --json mode and calls text otherwise.
func (s *state) emit(w io.Writer, v any, text func(io.Writer)) error {
	if s.flags.jsonMode {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
