// Package feishu delivers replies through the Feishu (Lark) Open API.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/rs/zerolog"
)

// Client is the Feishu API client
type Client struct {
	larkCli *lark.Client
	log     zerolog.Logger
}

// NewClient creates a new Feishu client
func NewClient(appID, appSecret string, log zerolog.Logger) (*Client, error) {
	if appID == "" || appSecret == "" {
		return nil, fmt.Errorf("feishu app_id and app_secret are required")
	}
	return &Client{
		larkCli: lark.NewClient(appID, appSecret),
		log:     log.With().Str("component", "feishu").Logger(),
	}, nil
}

// Send sends a text message to a user by open_id
func (c *Client) Send(ctx context.Context, tenantID, openID, text string) error {
	content := map[string]string{"text": text}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeOpenId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(openID).
			MsgType(larkim.MsgTypeText).
			Content(string(contentJSON)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: code=%d msg=%s", resp.Code, resp.Msg)
	}

	c.log.Debug().Str("tenant_id", tenantID).Str("open_id", openID).Msg("message sent")
	return nil
}
