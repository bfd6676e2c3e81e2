package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brunobiu/chatbotprincipal/internal/api"
	"github.com/brunobiu/chatbotprincipal/internal/service"
)

// Server exposes operator tools over MCP, backed by the chatbot API
type Server struct {
	server        *mcp.Server
	client        *Client
	defaultTenant string
}

// NewServer creates the operator MCP server. defaultTenant is used when a tool call omits tenant_id.
func NewServer(client *Client, defaultTenant, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "chatbot-operator",
			Version: version,
		}, nil),
		client:        client,
		defaultTenant: defaultTenant,
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx ends or the peer disconnects
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_conversation",
		Description: "Get a customer conversation: its state (AI_ACTIVE, AWAITING_HUMAN, HUMAN_RESPONDED) and recent messages, including which AI answers fell back to a human.",
	}, s.getConversation)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "human_reply",
		Description: "Send a reply to the customer as a human operator. Only allowed once the conversation was handed off (AWAITING_HUMAN or HUMAN_RESPONDED); the AI stays silent until the thread is released or goes idle.",
	}, s.humanReply)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "release_conversation",
		Description: "Hand a conversation back to the AI.",
	}, s.releaseConversation)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "takeover_conversation",
		Description: "Claim a conversation the AI is currently handling so a human can answer it.",
	}, s.takeoverConversation)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_usage",
		Description: "Get a tenant's token usage, estimated cost and processed messages per day. Dates are YYYY-MM-DD and default to today.",
	}, s.getUsage)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "add_knowledge",
		Description: "Add a document to a tenant's knowledge base. It is split into paragraphs and used to ground future AI answers.",
	}, s.addKnowledge)
}

func (s *Server) tenant(id string) (string, error) {
	if id = strings.TrimSpace(id); id != "" {
		return id, nil
	}
	if s.defaultTenant != "" {
		return s.defaultTenant, nil
	}
	return "", errors.New("tenant_id is required")
}

// ConversationInput identifies a conversation
type ConversationInput struct {
	TenantID  string `json:"tenant_id,omitempty" jsonschema:"the tenant; defaults to the configured tenant"`
	EndUserID string `json:"end_user_id" jsonschema:"the customer identifier, for example a phone number"`
}

// GetConversationInput is the input for get_conversation
type GetConversationInput struct {
	TenantID  string `json:"tenant_id,omitempty" jsonschema:"the tenant; defaults to the configured tenant"`
	EndUserID string `json:"end_user_id" jsonschema:"the customer identifier, for example a phone number"`
	Limit     int    `json:"limit,omitempty" jsonschema:"maximum number of messages to return (default 20)"`
}

// GetConversationOutput is the output for get_conversation
type GetConversationOutput struct {
	Found         bool      `json:"found"`
	State         string    `json:"state,omitempty"`
	LastMessageAt string    `json:"last_message_at,omitempty"`
	LastHumanAt   string    `json:"last_human_at,omitempty"`
	Messages      []Message `json:"messages,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Message is a conversation message as shown to operators
type Message struct {
	Sender            string   `json:"sender"`
	Content           string   `json:"content"`
	Confidence        *float64 `json:"confidence,omitempty"`
	FallbackTriggered bool     `json:"fallback_triggered,omitempty"`
	At                string   `json:"at"`
}

func (s *Server) getConversation(ctx context.Context, req *mcp.CallToolRequest, input GetConversationInput) (*mcp.CallToolResult, GetConversationOutput, error) {
	tenantID, err := s.tenant(input.TenantID)
	if err != nil {
		return nil, GetConversationOutput{Error: err.Error()}, nil
	}
	if input.EndUserID == "" {
		return nil, GetConversationOutput{Error: "end_user_id is required"}, nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	resp, err := s.client.GetConversation(ctx, tenantID, input.EndUserID, limit)
	if err != nil {
		return nil, GetConversationOutput{Error: err.Error()}, nil
	}
	if resp == nil {
		return nil, GetConversationOutput{Found: false}, nil
	}

	out := GetConversationOutput{
		Found:         true,
		State:         resp.Conversation.State,
		LastMessageAt: resp.Conversation.LastMessageAt.Format(time.RFC3339),
	}
	if resp.Conversation.LastHumanAt != nil {
		out.LastHumanAt = resp.Conversation.LastHumanAt.Format(time.RFC3339)
	}
	for _, m := range resp.Messages {
		out.Messages = append(out.Messages, Message{
			Sender:            m.Sender,
			Content:           m.Content,
			Confidence:        m.Confidence,
			FallbackTriggered: m.FallbackTriggered,
			At:                m.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

// HumanReplyInput is the input for human_reply
type HumanReplyInput struct {
	TenantID  string `json:"tenant_id,omitempty" jsonschema:"the tenant; defaults to the configured tenant"`
	EndUserID string `json:"end_user_id" jsonschema:"the customer identifier, for example a phone number"`
	Text      string `json:"text" jsonschema:"the message to send to the customer"`
}

// StateOutput reports the conversation state after an operator action
type StateOutput struct {
	Success bool   `json:"success"`
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) humanReply(ctx context.Context, req *mcp.CallToolRequest, input HumanReplyInput) (*mcp.CallToolResult, StateOutput, error) {
	tenantID, err := s.tenant(input.TenantID)
	if err != nil {
		return nil, StateOutput{Error: err.Error()}, nil
	}
	if input.EndUserID == "" || strings.TrimSpace(input.Text) == "" {
		return nil, StateOutput{Error: "end_user_id and text are required"}, nil
	}

	conv, err := s.client.HumanReply(ctx, tenantID, input.EndUserID, input.Text)
	if err != nil {
		return nil, StateOutput{Error: describe(err)}, nil
	}
	return nil, StateOutput{Success: true, State: conv.State}, nil
}

func (s *Server) releaseConversation(ctx context.Context, req *mcp.CallToolRequest, input ConversationInput) (*mcp.CallToolResult, StateOutput, error) {
	return s.operatorAction(ctx, input, s.client.Release)
}

func (s *Server) takeoverConversation(ctx context.Context, req *mcp.CallToolRequest, input ConversationInput) (*mcp.CallToolResult, StateOutput, error) {
	return s.operatorAction(ctx, input, s.client.Takeover)
}

func (s *Server) operatorAction(ctx context.Context, input ConversationInput, action func(ctx context.Context, tenantID, endUserID string) (*api.ConversationDTO, error)) (*mcp.CallToolResult, StateOutput, error) {
	tenantID, err := s.tenant(input.TenantID)
	if err != nil {
		return nil, StateOutput{Error: err.Error()}, nil
	}
	if input.EndUserID == "" {
		return nil, StateOutput{Error: "end_user_id is required"}, nil
	}

	conv, err := action(ctx, tenantID, input.EndUserID)
	if err != nil {
		return nil, StateOutput{Error: describe(err)}, nil
	}
	return nil, StateOutput{Success: true, State: conv.State}, nil
}

// GetUsageInput is the input for get_usage
type GetUsageInput struct {
	TenantID string `json:"tenant_id,omitempty" jsonschema:"the tenant; defaults to the configured tenant"`
	From     string `json:"from,omitempty" jsonschema:"first day, YYYY-MM-DD"`
	To       string `json:"to,omitempty" jsonschema:"last day, YYYY-MM-DD"`
}

// GetUsageOutput is the output for get_usage
type GetUsageOutput struct {
	Report *service.UsageReport `json:"report,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func (s *Server) getUsage(ctx context.Context, req *mcp.CallToolRequest, input GetUsageInput) (*mcp.CallToolResult, GetUsageOutput, error) {
	tenantID, err := s.tenant(input.TenantID)
	if err != nil {
		return nil, GetUsageOutput{Error: err.Error()}, nil
	}
	report, err := s.client.GetUsage(ctx, tenantID, input.From, input.To)
	if err != nil {
		return nil, GetUsageOutput{Error: err.Error()}, nil
	}
	return nil, GetUsageOutput{Report: report}, nil
}

// AddKnowledgeInput is the input for add_knowledge
type AddKnowledgeInput struct {
	TenantID string `json:"tenant_id,omitempty" jsonschema:"the tenant; defaults to the configured tenant"`
	Source   string `json:"source,omitempty" jsonschema:"where the content came from, for example faq.md"`
	Content  string `json:"content" jsonschema:"the text to add; paragraphs become separate fragments"`
}

// AddKnowledgeOutput is the output for add_knowledge
type AddKnowledgeOutput struct {
	Fragments int    `json:"fragments"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) addKnowledge(ctx context.Context, req *mcp.CallToolRequest, input AddKnowledgeInput) (*mcp.CallToolResult, AddKnowledgeOutput, error) {
	tenantID, err := s.tenant(input.TenantID)
	if err != nil {
		return nil, AddKnowledgeOutput{Error: err.Error()}, nil
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, AddKnowledgeOutput{Error: "content is required"}, nil
	}

	source := input.Source
	if source == "" {
		source = "operator"
	}
	n, err := s.client.AddKnowledge(ctx, tenantID, api.KnowledgeRequest{Source: source, Content: input.Content})
	if err != nil {
		return nil, AddKnowledgeOutput{Error: err.Error()}, nil
	}
	return nil, AddKnowledgeOutput{Fragments: n}, nil
}

// describe points the operator at the current state when an action does not apply to it
func describe(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case "illegal_transition":
			return apiErr.Message + " (check the state with get_conversation)"
		case "not_found":
			return apiErr.Message + " (this end user has not written yet)"
		}
	}
	return err.Error()
}
