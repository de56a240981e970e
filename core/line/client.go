// Package line adapts the LINE Messaging API to the wager dispatcher.
package line

import (
	"context"
	"fmt"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"

	"github.com/m3rciful/betbot/core/metrics"
)

const platform = "line"

// Client sends messages through the Messaging API.
type Client interface {
	Reply(ctx context.Context, replyToken string, msgs []messaging_api.MessageInterface) error
	Push(ctx context.Context, to string, msgs []messaging_api.MessageInterface) error
}

type sdkClient struct {
	api *messaging_api.MessagingApiAPI
}

// NewClient returns a Client authenticated with the channel access token.
func NewClient(channelAccessToken string) (Client, error) {
	api, err := messaging_api.NewMessagingApiAPI(channelAccessToken)
	if err != nil {
		return nil, fmt.Errorf("line: messaging api: %w", err)
	}
	return &sdkClient{api: api}, nil
}

func (c *sdkClient) Reply(ctx context.Context, replyToken string, msgs []messaging_api.MessageInterface) error {
	_, err := c.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   msgs,
	})
	metrics.Outbound(platform, err)
	if err != nil {
		return fmt.Errorf("line: reply: %w", err)
	}
	return nil
}

func (c *sdkClient) Push(ctx context.Context, to string, msgs []messaging_api.MessageInterface) error {
	_, err := c.api.WithContext(ctx).PushMessage(&messaging_api.PushMessageRequest{
		To:       to,
		Messages: msgs,
	}, "")
	metrics.Outbound(platform, err)
	if err != nil {
		return fmt.Errorf("line: push: %w", err)
	}
	return nil
}
