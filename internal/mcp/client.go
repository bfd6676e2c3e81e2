package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/api"
	"github.com/brunobiu/chatbotprincipal/internal/service"
)

// Client is the HTTP client for the chatbot API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx answer from the API
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func conversationPath(tenantID, endUserID string) string {
	return fmt.Sprintf("/api/v1/tenants/%s/conversations/%s", url.PathEscape(tenantID), url.PathEscape(endUserID))
}

// ============ Conversations ============

// GetConversation gets a conversation with its last limit messages, nil if it does not exist
func (c *Client) GetConversation(ctx context.Context, tenantID, endUserID string, limit int) (*api.ConversationResponse, error) {
	path := conversationPath(tenantID, endUserID) + "?limit=" + strconv.Itoa(limit)
	var result api.ConversationResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

// HumanReply sends an operator reply to the end user
func (c *Client) HumanReply(ctx context.Context, tenantID, endUserID, text string) (*api.ConversationDTO, error) {
	var result api.ConversationDTO
	body := api.ReplyRequest{Text: text}
	if err := c.do(ctx, http.MethodPost, conversationPath(tenantID, endUserID)+"/human-reply", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Release hands a conversation back to the AI
func (c *Client) Release(ctx context.Context, tenantID, endUserID string) (*api.ConversationDTO, error) {
	var result api.ConversationDTO
	if err := c.do(ctx, http.MethodPost, conversationPath(tenantID, endUserID)+"/release", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Takeover claims a conversation for a human operator
func (c *Client) Takeover(ctx context.Context, tenantID, endUserID string) (*api.ConversationDTO, error) {
	var result api.ConversationDTO
	if err := c.do(ctx, http.MethodPost, conversationPath(tenantID, endUserID)+"/takeover", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ============ Usage / Knowledge ============

// GetUsage gets a tenant's usage between two days, both YYYY-MM-DD and optional
func (c *Client) GetUsage(ctx context.Context, tenantID, from, to string) (*service.UsageReport, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	path := fmt.Sprintf("/api/v1/tenants/%s/usage", url.PathEscape(tenantID))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result service.UsageReport
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AddKnowledge ingests a document, returning how many fragments were stored
func (c *Client) AddKnowledge(ctx context.Context, tenantID string, req api.KnowledgeRequest) (int, error) {
	var result struct {
		Fragments int `json:"fragments"`
	}
	path := fmt.Sprintf("/api/v1/tenants/%s/knowledge", url.PathEscape(tenantID))
	if err := c.do(ctx, http.MethodPost, path, req, &result); err != nil {
		return 0, err
	}
	return result.Fragments, nil
}

// ============ HTTP Helpers ============

func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode, Message: string(respBody)}
		var e api.ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			apiErr.Kind, apiErr.Message = e.Kind, e.Error
		}
		return apiErr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
