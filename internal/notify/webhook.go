package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// ReplyNotifier posts ReplyEvents to a configured URL. A notifier without a
// URL does nothing.
type ReplyNotifier struct {
	client *resty.Client
	url    string
}

func NewReplyNotifier(url string, timeout time.Duration) *ReplyNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "lead-nurture/1.0")
	return &ReplyNotifier{client: client, url: url}
}

func (n *ReplyNotifier) NotifyReply(ctx context.Context, event ReplyEvent) error {
	if n == nil || n.url == "" {
		return nil
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(event).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("post reply notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("reply webhook returned status %d", resp.StatusCode())
	}

	log.Debug().
		Str("url", n.url).
		Uint("execution_id", event.ExecutionID).
		Int("status", resp.StatusCode()).
		Msg("Reply notification delivered")
	return nil
}
