package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/internal/bot"
	"github.com/mesh-intelligence/journey/internal/history"
	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/internal/orchestrator"
	"github.com/mesh-intelligence/journey/pkg/types"
)

type chatRequest struct {
	ThreadID     string `json:"threadId"`
	Message      string `json:"message" binding:"required"`
	AnchorPath   string `json:"anchorPath"`
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt"`
	HistoryLimit int    `json:"historyLimit"`
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.turns.HandleTurn(c.Request.Context(), orchestrator.TurnRequest{
		UserID:       userOf(c),
		ThreadID:     req.ThreadID,
		Message:      req.Message,
		AnchorPath:   req.AnchorPath,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		HistoryLimit: req.HistoryLimit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type analyzeRequest struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

func (s *Server) analyzeJournal(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := s.analyzer.AnalyzeJournal(c.Request.Context(), orchestrator.AnalyzeRequest{
		UserID:  userOf(c),
		Content: req.Content,
		Model:   req.Model,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type decision func(Actions, context.Context, string, string) (*types.Action, error)

func (s *Server) decide(fn decision) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := fn(s.actions, c.Request.Context(), userOf(c), c.Param("id"))
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

func (s *Server) threadActions(c *gin.Context) {
	status := types.ActionStatus(c.Query("status"))
	switch status {
	case "", types.StatusPending, types.StatusConfirmed, types.StatusRejected, types.StatusReverted:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", status)})
		return
	}
	actions, err := s.actions.List(c.Request.Context(), userOf(c), c.Param("id"), status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": nonNil(actions)})
}

func (s *Server) listThreads(c *gin.Context) {
	archived, _ := strconv.ParseBool(c.Query("archived"))
	threads, err := s.history.ListThreads(c.Request.Context(), userOf(c), archived)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": nonNil(threads)})
}

func (s *Server) threadMessages(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	msgs, err := s.history.LoadActive(c.Request.Context(), userOf(c), c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": nonNil(msgs)})
}

func (s *Server) archiveThread(c *gin.Context) {
	if err := s.history.Archive(c.Request.Context(), userOf(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type editRequest struct {
	Message string `json:"message" binding:"required"`
	Model   string `json:"model"`
}

type editResponse struct {
	Branch *history.BranchResult    `json:"branch"`
	Turn   *orchestrator.TurnResult `json:"turn"`
}

// editMessage branches the thread at a user message and runs the edited
// text as a new turn on the same thread.
func (s *Server) editMessage(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	userID := userOf(c)

	branch, err := s.history.EditAndBranch(ctx, userID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	turn, err := s.turns.HandleTurn(ctx, orchestrator.TurnRequest{
		UserID:   userID,
		ThreadID: branch.ThreadID,
		Message:  req.Message,
		Model:    req.Model,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, editResponse{Branch: branch, Turn: turn})
}

type resolveRequest struct {
	Text     string            `json:"text"`
	Mentions []mention.Mention `json:"mentions"`
}

func (s *Server) resolveMentions(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mentions := req.Mentions
	if req.Text != "" {
		mentions = append(mentions, mention.Parse(req.Text)...)
	}
	resolved, err := s.resolver.Resolve(c.Request.Context(), userOf(c), mention.Unique(mentions))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mentions": nonNil(resolved)})
}

func (s *Server) searchMentions(c *gin.Context) {
	kind := types.EntityType(c.Query("type"))
	results, err := s.resolver.Search(c.Request.Context(), userOf(c), kind, c.Query("q"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": nonNil(results)})
}

func (s *Server) searchAllMentions(c *gin.Context) {
	grouped, err := s.resolver.SearchAll(c.Request.Context(), userOf(c), c.Query("q"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, grouped)
}

type linkResponse struct {
	Token     string    `json:"token"`
	Command   string    `json:"command"`
	DeepLink  string    `json:"deepLink,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// linkTelegram issues a link token for the caller. The chat proves itself by
// sending the token to the bot; no chat is linked here.
func (s *Server) linkTelegram(c *gin.Context) {
	token, expires, err := s.links.IssueLink(userOf(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	res := linkResponse{Token: token, Command: "/link " + token, ExpiresAt: expires}
	if s.botUsername != "" {
		res.DeepLink = "https://t.me/" + s.botUsername + "?start=link_" + token
	}
	c.JSON(http.StatusOK, res)
}

// telegramWebhook answers 200 for every authentic delivery, whatever the
// outcome, so Telegram does not redeliver it. The turn outlives the request
// if Telegram hangs up first.
func (s *Server) telegramWebhook(c *gin.Context) {
	if s.webhookSecret == "" || c.GetHeader(bot.SecretHeader) != s.webhookSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "bad secret"})
		return
	}
	u, err := bot.DecodeUpdate(c.Request.Body)
	if err != nil {
		s.logger.Warn("undecodable telegram update", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}
	if err := s.webhook.HandleUpdate(context.WithoutCancel(c.Request.Context()), u); err != nil {
		s.logger.Warn("telegram update failed", zap.Int64("update_id", u.UpdateID), zap.Error(err))
	}
	c.Status(http.StatusOK)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
