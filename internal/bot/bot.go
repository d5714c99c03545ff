// Package bot is the Telegram transport. Updates arrive through the webhook;
// free text becomes a chat turn on the chat's thread, and proposals are sent
// back with inline Confirm and Cancel buttons whose callbacks go straight to
// the action machine. Nothing about pending actions is kept in memory.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/internal/history"
	"github.com/mesh-intelligence/journey/internal/metrics"
	"github.com/mesh-intelligence/journey/internal/orchestrator"
	"github.com/mesh-intelligence/journey/pkg/types"
)

// HistoryLimit is the number of prior messages sent with each bot turn.
const HistoryLimit = 10

// listLimit bounds /today and /status replies.
const listLimit = 20

// Turns runs chat turns.
type Turns interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
}

// Actions moves actions through their lifecycle.
type Actions interface {
	Confirm(ctx context.Context, userID, actionID string) (*types.Action, error)
	Reject(ctx context.Context, userID, actionID string) (*types.Action, error)
	Revert(ctx context.Context, userID, actionID string) (*types.Action, error)
	ListPending(ctx context.Context, userID, threadID string) ([]*types.Action, error)
}

// Verifier turns a chat link token into a user id.
type Verifier interface {
	VerifyLink(token string) (string, error)
}

// Bot handles webhook updates.
type Bot struct {
	store    types.Store
	turns    Turns
	actions  Actions
	history  *history.Manager
	verifier Verifier
	sender   Sender
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// WithMetrics sets the collectors updates are counted on.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bot) { b.metrics = m }
}

// WithVerifier enables /link with link tokens.
func WithVerifier(v Verifier) Option {
	return func(b *Bot) { b.verifier = v }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Bot) { b.now = now }
}

// New returns a Bot.
func New(store types.Store, turns Turns, actions Actions, hist *history.Manager, sender Sender, opts ...Option) *Bot {
	b := &Bot{
		store:   store,
		turns:   turns,
		actions: actions,
		history: hist,
		sender:  sender,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AnchorPath is the thread anchor of a chat.
func AnchorPath(chatID int64) string {
	return "telegram-" + strconv.FormatInt(chatID, 10)
}

// Link ties chatID to userID. A chat already linked to another user returns
// types.ErrChatLinked; the chat has to /unlink first.
func (b *Bot) Link(ctx context.Context, userID string, chatID int64) error {
	if userID == "" {
		return types.ErrAuthRequired
	}
	return b.store.Update(ctx, func(tx types.Tx) error {
		return tx.BotLinks().Set(&types.BotLink{ChatID: chatID, UserID: userID, CreatedAt: b.now()})
	})
}

// userFor returns the user linked to chatID, or "" when the chat is not
// linked.
func (b *Bot) userFor(ctx context.Context, chatID int64) (string, error) {
	var userID string
	err := b.store.View(ctx, func(tx types.Tx) error {
		l, err := tx.BotLinks().Get(chatID)
		if err != nil {
			return err
		}
		userID = l.UserID
		return nil
	})
	if errors.Is(err, types.ErrNotFound) {
		return "", nil
	}
	return userID, err
}

// HandleUpdate processes one webhook delivery. Failures are reported to the
// chat; the returned error is only for logging, the webhook always answers
// 200 so Telegram does not redeliver.
func (b *Bot) HandleUpdate(ctx context.Context, u *Update) error {
	switch {
	case u.CallbackQuery != nil:
		b.count("callback")
		return b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.Text != "":
		text := strings.TrimSpace(u.Message.Text)
		if strings.HasPrefix(text, "/") {
			b.count("command")
		} else {
			b.count("message")
		}
		return b.handleText(ctx, u.Message.Chat.ID, text)
	}
	b.count("ignored")
	return nil
}

func (b *Bot) count(kind string) {
	if b.metrics != nil {
		b.metrics.BotUpdates.WithLabelValues(kind).Inc()
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, keyboard *Keyboard) {
	if err := b.sender.SendMessage(ctx, chatID, text, keyboard); err != nil {
		b.logger.Warn("sending telegram message failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

const notLinkedText = "This chat is not linked to an account yet. Send /link <token> with a token from `journey token --link`."

const helpText = `Hi! I'm your Journey assistant.

Ask me anything about your tasks, projects and goals.

Quick commands:
/today - Today's tasks
/status - In-progress tasks
/add <task> - Quick add task
/pending - Proposals waiting for you
/link <token> - Link this chat to your account
/unlink - Disconnect this chat`

func (b *Bot) handleText(ctx context.Context, chatID int64, text string) error {
	command, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/start":
		if token, ok := strings.CutPrefix(arg, "link_"); ok {
			return b.link(ctx, chatID, token)
		}
		b.send(ctx, chatID, helpText, nil)
		return nil
	case "/link":
		return b.link(ctx, chatID, arg)
	case "/unlink":
		return b.unlink(ctx, chatID)
	}

	userID, err := b.userFor(ctx, chatID)
	if err != nil {
		b.send(ctx, chatID, "Sorry, something went wrong.", nil)
		return err
	}
	if userID == "" {
		b.send(ctx, chatID, notLinkedText, nil)
		return nil
	}

	switch command {
	case "/today":
		today := b.now().Format("2006-01-02")
		return b.listTasks(ctx, chatID, userID, map[string]any{"scheduledOn": today}, "Nothing scheduled for today.", "Today:")
	case "/status":
		return b.listTasks(ctx, chatID, userID, map[string]any{"status": types.TaskInProgress}, "Nothing in progress.", "In progress:")
	case "/pending":
		return b.pending(ctx, chatID, userID)
	case "/add":
		if arg == "" {
			b.send(ctx, chatID, "Usage: /add <task title>", nil)
			return nil
		}
		return b.chat(ctx, chatID, userID, "Create a new task: "+arg)
	}
	return b.chat(ctx, chatID, userID, text)
}

func (b *Bot) link(ctx context.Context, chatID int64, token string) error {
	if b.verifier == nil || token == "" {
		b.send(ctx, chatID, "Usage: /link <token>", nil)
		return nil
	}
	userID, err := b.verifier.VerifyLink(token)
	if err != nil {
		b.send(ctx, chatID, "That token is not valid.", nil)
		return nil
	}
	if err := b.Link(ctx, userID, chatID); err != nil {
		if errors.Is(err, types.ErrChatLinked) {
			b.send(ctx, chatID, "This chat is linked to another account. Send /unlink first.", nil)
			return nil
		}
		b.send(ctx, chatID, "Sorry, linking failed.", nil)
		return err
	}
	b.logger.Info("linked telegram chat", zap.Int64("chat_id", chatID), zap.String("user_id", userID))
	b.send(ctx, chatID, "Linked. You can start chatting.", nil)
	return nil
}

func (b *Bot) unlink(ctx context.Context, chatID int64) error {
	err := b.store.Update(ctx, func(tx types.Tx) error {
		return tx.BotLinks().Delete(chatID)
	})
	if err != nil {
		b.send(ctx, chatID, "Sorry, something went wrong.", nil)
		return err
	}
	b.logger.Info("unlinked telegram chat", zap.Int64("chat_id", chatID))
	b.send(ctx, chatID, "Unlinked. Send /link <token> to connect an account.", nil)
	return nil
}

func (b *Bot) chat(ctx context.Context, chatID int64, userID, text string) error {
	res, err := b.turns.HandleTurn(ctx, orchestrator.TurnRequest{
		UserID:       userID,
		Message:      text,
		AnchorPath:   AnchorPath(chatID),
		HistoryLimit: HistoryLimit,
	})
	if err != nil {
		b.send(ctx, chatID, "Sorry, something went wrong.", nil)
		return err
	}
	reply := res.Response
	if reply == "" {
		reply = "I couldn't process that."
	}
	b.send(ctx, chatID, reply, nil)
	for _, p := range res.ProposedActions {
		b.send(ctx, chatID, "Proposed: "+p.Description, decisionKeyboard(p.ID))
	}
	return nil
}

func (b *Bot) pending(ctx context.Context, chatID int64, userID string) error {
	thread, err := b.history.ThreadFor(ctx, userID, "", AnchorPath(chatID))
	if err != nil {
		return err
	}
	actions, err := b.actions.ListPending(ctx, userID, thread.ID)
	if err != nil {
		b.send(ctx, chatID, "Sorry, something went wrong.", nil)
		return err
	}
	if len(actions) == 0 {
		b.send(ctx, chatID, "Nothing is waiting for confirmation.", nil)
		return nil
	}
	for _, a := range actions {
		b.send(ctx, chatID, "Proposed: "+a.Description, decisionKeyboard(a.ID))
	}
	return nil
}

func (b *Bot) listTasks(ctx context.Context, chatID int64, userID string, filter map[string]any, empty, heading string) error {
	filter["limit"] = listLimit
	var lines []string
	err := b.store.View(ctx, func(tx types.Tx) error {
		tbl, err := tx.Entities(types.EntityTask)
		if err != nil {
			return err
		}
		tasks, err := tbl.Fetch(userID, filter)
		if err != nil {
			return err
		}
		ids := make([]string, len(tasks))
		for i, t := range tasks {
			ids[i] = t.EntityID()
		}
		codes, err := tx.ShortCodes().CodesFor(userID, types.EntityTask, ids)
		if err != nil {
			return err
		}
		for _, e := range tasks {
			t := e.(*types.Task)
			line := "- " + t.Title
			if code, ok := codes[t.ID]; ok {
				line = fmt.Sprintf("- task#%d %s", code, t.Title)
			}
			lines = append(lines, line+" ["+t.Status+"]")
		}
		return nil
	})
	if err != nil {
		b.send(ctx, chatID, "Sorry, something went wrong.", nil)
		return err
	}
	if len(lines) == 0 {
		b.send(ctx, chatID, empty, nil)
		return nil
	}
	b.send(ctx, chatID, heading+"\n"+strings.Join(lines, "\n"), nil)
	return nil
}

func decisionKeyboard(actionID string) *Keyboard {
	return &Keyboard{InlineKeyboard: [][]Button{{
		{Text: "Confirm", CallbackData: "confirm:" + actionID},
		{Text: "Cancel", CallbackData: "reject:" + actionID},
	}}}
}

func revertKeyboard(actionID string) *Keyboard {
	return &Keyboard{InlineKeyboard: [][]Button{{
		{Text: "Undo", CallbackData: "revert:" + actionID},
	}}}
}

func (b *Bot) handleCallback(ctx context.Context, q *CallbackQuery) error {
	if err := b.sender.AnswerCallback(ctx, q.ID, ""); err != nil {
		b.logger.Debug("answering callback failed", zap.Error(err))
	}
	if q.Message == nil {
		return nil
	}
	chatID := q.Message.Chat.ID

	verb, actionID, ok := strings.Cut(q.Data, ":")
	if !ok || actionID == "" {
		return nil
	}
	userID, err := b.userFor(ctx, chatID)
	if err != nil {
		return err
	}
	if userID == "" {
		b.send(ctx, chatID, notLinkedText, nil)
		return nil
	}

	var a *types.Action
	switch verb {
	case "confirm":
		if a, err = b.actions.Confirm(ctx, userID, actionID); err == nil {
			b.send(ctx, chatID, "Done: "+a.Description, revertKeyboard(a.ID))
		}
	case "reject":
		if a, err = b.actions.Reject(ctx, userID, actionID); err == nil {
			b.send(ctx, chatID, "Cancelled: "+a.Description, nil)
		}
	case "revert":
		if a, err = b.actions.Revert(ctx, userID, actionID); err == nil {
			b.send(ctx, chatID, "Undone: "+a.Description, nil)
		}
	default:
		return nil
	}
	if err != nil {
		b.send(ctx, chatID, failureText(err), nil)
		return err
	}
	return nil
}

// failureText renders a lifecycle error for the chat.
func failureText(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidTransition):
		return "That action was already handled."
	case errors.Is(err, types.ErrActionNotFound):
		return "That action no longer exists."
	case errors.Is(err, types.ErrNotFound):
		return "The referenced item no longer exists."
	case errors.Is(err, types.ErrOwnershipViolation):
		return "That action belongs to another account."
	case errors.Is(err, types.ErrMissingSnapshot):
		return "That action can't be undone."
	}
	return "Action failed."
}
