// Package api is the HTTP surface of the assistant: chat turns, action
// decisions, thread history, mention lookup and the Telegram webhook, served
// with gin behind bearer-token auth.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/journey/internal/bot"
	"github.com/mesh-intelligence/journey/internal/history"
	"github.com/mesh-intelligence/journey/internal/mention"
	"github.com/mesh-intelligence/journey/internal/metrics"
	"github.com/mesh-intelligence/journey/internal/orchestrator"
	"github.com/mesh-intelligence/journey/pkg/types"
)

// Turns runs chat turns.
type Turns interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResult, error)
}

// Analyzer reads a journal text and suggests tasks without writing.
type Analyzer interface {
	AnalyzeJournal(ctx context.Context, req orchestrator.AnalyzeRequest) (*orchestrator.Analysis, error)
}

// Actions moves actions through their lifecycle and lists them.
type Actions interface {
	Confirm(ctx context.Context, userID, actionID string) (*types.Action, error)
	Reject(ctx context.Context, userID, actionID string) (*types.Action, error)
	Revert(ctx context.Context, userID, actionID string) (*types.Action, error)
	List(ctx context.Context, userID, threadID string, status types.ActionStatus) ([]*types.Action, error)
}

// Verifier turns a bearer token into a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// Webhook handles Telegram deliveries.
type Webhook interface {
	HandleUpdate(ctx context.Context, u *bot.Update) error
}

// LinkIssuer makes the short-lived tokens a chat sends to the bot to link
// itself to an account.
type LinkIssuer interface {
	IssueLink(userID string) (string, time.Time, error)
}

// Server wires the HTTP routes to the core components.
type Server struct {
	turns    Turns
	actions  Actions
	history  *history.Manager
	resolver *mention.Resolver
	verifier Verifier

	analyzer      Analyzer
	webhook       Webhook
	webhookSecret string
	links         LinkIssuer
	botUsername   string
	allowOrigins  []string
	limiter       *limiterPool
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics counts requests and serves GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithWebhook enables the Telegram webhook. Deliveries must carry secret in
// the bot.SecretHeader header; with an empty secret every delivery is refused.
func WithWebhook(w Webhook, secret string) Option {
	return func(s *Server) {
		s.webhook = w
		s.webhookSecret = secret
	}
}

// WithLinkTokens enables POST /v1/telegram/link. botUsername, when set, adds
// a t.me deep link to the response.
func WithLinkTokens(links LinkIssuer, botUsername string) Option {
	return func(s *Server) {
		s.links = links
		s.botUsername = botUsername
	}
}

// WithAnalyzer enables POST /v1/journal/analyze. Analyses share the chat
// rate limit.
func WithAnalyzer(a Analyzer) Option {
	return func(s *Server) { s.analyzer = a }
}

// WithChatRate limits each user to perMinute chat turns. Zero disables the
// limit.
func WithChatRate(perMinute int) Option {
	return func(s *Server) {
		if perMinute > 0 {
			s.limiter = newLimiterPool(perMinute)
		}
	}
}

// WithAllowOrigins sets the CORS origins. The default allows any origin.
func WithAllowOrigins(origins ...string) Option {
	return func(s *Server) { s.allowOrigins = origins }
}

// New returns a Server.
func New(turns Turns, actions Actions, hist *history.Manager, resolver *mention.Resolver, verifier Verifier, opts ...Option) *Server {
	s := &Server{
		turns:    turns,
		actions:  actions,
		history:  hist,
		resolver: resolver,
		verifier: verifier,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: len(s.allowOrigins) > 0,
		MaxAge:           12 * time.Hour,
	}
	if len(s.allowOrigins) > 0 {
		corsConfig.AllowOrigins = s.allowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.webhook != nil {
		r.POST("/telegram/webhook", s.telegramWebhook)
	}

	v1 := r.Group("/v1", s.authenticate())
	v1.POST("/chat", s.rateLimit(), s.chat)

	v1.POST("/actions/:id/confirm", s.decide(Actions.Confirm))
	v1.POST("/actions/:id/reject", s.decide(Actions.Reject))
	v1.POST("/actions/:id/revert", s.decide(Actions.Revert))

	v1.GET("/threads", s.listThreads)
	v1.GET("/threads/:id/messages", s.threadMessages)
	v1.GET("/threads/:id/actions", s.threadActions)
	v1.POST("/threads/:id/archive", s.archiveThread)
	v1.POST("/messages/:id/edit", s.rateLimit(), s.editMessage)

	if s.analyzer != nil {
		v1.POST("/journal/analyze", s.rateLimit(), s.analyzeJournal)
	}

	v1.POST("/mentions/resolve", s.resolveMentions)
	v1.GET("/mentions/search", s.searchMentions)
	v1.GET("/mentions/search-all", s.searchAllMentions)

	if s.webhook != nil && s.links != nil {
		v1.POST("/telegram/link", s.linkTelegram)
	}
	return r
}
