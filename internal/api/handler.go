package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/service"
)

// Pipeline is what the API drives
type Pipeline interface {
	HandleInbound(ctx context.Context, tenantID, endUserID, text string, now time.Time) error
	HumanReplied(ctx context.Context, tenantID, endUserID, text string) (*domain.Conversation, error)
	Release(ctx context.Context, tenantID, endUserID string) (*domain.Conversation, error)
	Takeover(ctx context.Context, tenantID, endUserID string) (*domain.Conversation, error)
	Conversation(ctx context.Context, tenantID, endUserID string, limit int) (*service.ConversationView, error)
	Usage(ctx context.Context, tenantID, from, to string) (*service.UsageReport, error)
	AddKnowledge(ctx context.Context, doc *domain.KnowledgeDocument) (int, error)
	BotConfig(ctx context.Context, tenantID string) (*domain.BotConfig, error)
	SaveBotConfig(ctx context.Context, cfg *domain.BotConfig) error
	Stats() domain.BufferStats
}

var _ Pipeline = (*service.Orchestrator)(nil)

// Server is the HTTP API in front of the pipeline
type Server struct {
	pipeline Pipeline
	echo     *echo.Echo
	addr     string
	log      zerolog.Logger
	now      func() time.Time
}

// NewServer creates a new API server
func NewServer(pipeline Pipeline, addr string, log zerolog.Logger) *Server {
	s := &Server{
		pipeline: pipeline,
		addr:     addr,
		log:      log.With().Str("component", "api").Logger(),
		now:      time.Now,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.log.Debug()
			if v.Status >= http.StatusInternalServerError {
				ev = s.log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/inbound", s.handleInbound)

	t := v1.Group("/tenants/:tenant")
	t.GET("/config", s.handleGetConfig)
	t.PUT("/config", s.handlePutConfig)
	t.GET("/usage", s.handleUsage)
	t.POST("/knowledge", s.handleAddKnowledge)

	conv := t.Group("/conversations/:user")
	conv.GET("", s.handleGetConversation)
	conv.POST("/human-reply", s.handleHumanReply)
	conv.POST("/release", s.handleRelease)
	conv.POST("/takeover", s.handleTakeover)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.addr).Msg("listening")
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ============ Request / Response ============

// InboundRequest is one already-mapped inbound fragment
type InboundRequest struct {
	TenantID   string     `json:"tenant_id"`
	EndUserID  string     `json:"end_user_id"`
	Text       string     `json:"text"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

// ReplyRequest is an operator reply
type ReplyRequest struct {
	Text string `json:"text"`
}

// KnowledgeRequest is a document to ingest
type KnowledgeRequest struct {
	Source   string            `json:"source"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ConversationDTO is the wire form of a conversation
type ConversationDTO struct {
	TenantID       string     `json:"tenant_id"`
	EndUserID      string     `json:"end_user_id"`
	State          string     `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	LastMessageAt  time.Time  `json:"last_message_at"`
	StateChangedAt time.Time  `json:"state_changed_at"`
	LastHumanAt    *time.Time `json:"last_human_at,omitempty"`
}

// MessageDTO is the wire form of a message
type MessageDTO struct {
	ID                string    `json:"id"`
	TurnID            string    `json:"turn_id,omitempty"`
	Sender            string    `json:"sender"`
	Content           string    `json:"content"`
	Confidence        *float64  `json:"confidence,omitempty"`
	FallbackTriggered bool      `json:"fallback_triggered"`
	CreatedAt         time.Time `json:"created_at"`
}

// ConversationResponse is a conversation with its recent messages
type ConversationResponse struct {
	Conversation ConversationDTO `json:"conversation"`
	Messages     []MessageDTO    `json:"messages"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func toConversationDTO(c *domain.Conversation) ConversationDTO {
	dto := ConversationDTO{
		TenantID:       c.TenantID,
		EndUserID:      c.EndUserID,
		State:          string(c.State),
		CreatedAt:      c.CreatedAt,
		LastMessageAt:  c.LastMessageAt,
		StateChangedAt: c.StateChangedAt,
	}
	if !c.LastHumanAt.IsZero() {
		t := c.LastHumanAt
		dto.LastHumanAt = &t
	}
	return dto
}

func toMessageDTOs(msgs []*domain.Message) []MessageDTO {
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			ID:                m.ID,
			TurnID:            m.TurnID,
			Sender:            string(m.SenderKind),
			Content:           m.Content,
			Confidence:        m.Confidence,
			FallbackTriggered: m.FallbackTriggered,
			CreatedAt:         m.CreatedAt,
		})
	}
	return out
}

// ============ Handlers ============

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"buffer": s.pipeline.Stats(),
	})
}

func (s *Server) handleInbound(c echo.Context) error {
	var req InboundRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, domain.NewError(domain.KindInvalidInput, "inbound", err))
	}

	now := s.now()
	if req.ReceivedAt != nil && !req.ReceivedAt.IsZero() {
		now = *req.ReceivedAt
	}
	if err := s.pipeline.HandleInbound(c.Request().Context(), req.TenantID, req.EndUserID, req.Text, now); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "buffered"})
}

func (s *Server) handleHumanReply(c echo.Context) error {
	var req ReplyRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, domain.NewError(domain.KindInvalidInput, "human reply", err))
	}
	if strings.TrimSpace(req.Text) == "" {
		return s.writeError(c, domain.NewError(domain.KindInvalidInput, "human reply", errors.New("text is required")))
	}

	conv, err := s.pipeline.HumanReplied(c.Request().Context(), c.Param("tenant"), c.Param("user"), req.Text)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toConversationDTO(conv))
}

func (s *Server) handleRelease(c echo.Context) error {
	conv, err := s.pipeline.Release(c.Request().Context(), c.Param("tenant"), c.Param("user"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toConversationDTO(conv))
}

func (s *Server) handleTakeover(c echo.Context) error {
	conv, err := s.pipeline.Takeover(c.Request().Context(), c.Param("tenant"), c.Param("user"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toConversationDTO(conv))
}

func (s *Server) handleGetConversation(c echo.Context) error {
	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, 200)
		}
	}

	view, err := s.pipeline.Conversation(c.Request().Context(), c.Param("tenant"), c.Param("user"), limit)
	if err != nil {
		return s.writeError(c, err)
	}
	if view == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
	}
	return c.JSON(http.StatusOK, ConversationResponse{
		Conversation: toConversationDTO(view.Conversation),
		Messages:     toMessageDTOs(view.Messages),
	})
}

func (s *Server) handleUsage(c echo.Context) error {
	today := domain.DayOf(s.now())
	from := c.QueryParam("from")
	to := c.QueryParam("to")
	if from == "" {
		from = today
	}
	if to == "" {
		to = today
	}
	for _, d := range []string{from, to} {
		if _, err := time.Parse(domain.DayLayout, d); err != nil {
			return s.writeError(c, domain.NewError(domain.KindInvalidInput, "usage", errors.New("dates must be YYYY-MM-DD")))
		}
	}
	if from > to {
		return s.writeError(c, domain.NewError(domain.KindInvalidInput, "usage", errors.New("from is after to")))
	}

	report, err := s.pipeline.Usage(c.Request().Context(), c.Param("tenant"), from, to)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleAddKnowledge(c echo.Context) error {
	var req KnowledgeRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, domain.NewError(domain.KindInvalidInput, "add knowledge", err))
	}
	if strings.TrimSpace(req.Content) == "" {
		return s.writeError(c, domain.NewError(domain.KindInvalidInput, "add knowledge", errors.New("content is required")))
	}

	n, err := s.pipeline.AddKnowledge(c.Request().Context(), &domain.KnowledgeDocument{
		TenantID:  c.Param("tenant"),
		Source:    req.Source,
		Content:   req.Content,
		Metadata:  req.Metadata,
		CreatedAt: s.now(),
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]int{"fragments": n})
}

func (s *Server) handleGetConfig(c echo.Context) error {
	cfg, err := s.pipeline.BotConfig(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// handlePutConfig applies the body over the current config, so omitted fields keep their values
func (s *Server) handlePutConfig(c echo.Context) error {
	current, err := s.pipeline.BotConfig(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return s.writeError(c, err)
	}
	cfg := *current
	if err := c.Bind(&cfg); err != nil {
		return s.writeError(c, domain.NewError(domain.KindInvalidInput, "save config", err))
	}
	// The path names the tenant
	cfg.TenantID = c.Param("tenant")

	if err := s.pipeline.SaveBotConfig(c.Request().Context(), &cfg); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, &cfg)
}

// ============ Helpers ============

// statusOf maps pipeline errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPersistenceFailed), errors.Is(err, domain.ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrGenerationFailed), errors.Is(err, domain.ErrDeliveryFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(c echo.Context, err error) error {
	status := statusOf(err)
	kind := string(domain.KindOf(err))
	if errors.Is(err, domain.ErrIllegalTransition) {
		kind = "illegal_transition"
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.JSON(status, ErrorResponse{Error: err.Error(), Kind: kind})
}
