package webhook

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lead-nurture/internal/automation"
	"lead-nurture/internal/models"
	"lead-nurture/internal/store"
	pkgmodels "lead-nurture/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler receives inbound messages from the messaging provider and turns
// them into lead contact and automation replies.
type Handler struct {
	VerifyToken string
	Leads       *store.LeadStore
	Ledger      *store.Ledger
	Replies     *automation.Replies
	Now         func() time.Time
}

func NewHandler(verifyToken string, leads *store.LeadStore, ledger *store.Ledger, replies *automation.Replies) *Handler {
	return &Handler{
		VerifyToken: verifyToken,
		Leads:       leads,
		Ledger:      ledger,
		Replies:     replies,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "" && token != "" {
		if mode == "subscribe" && h.VerifyToken != "" && token == h.VerifyToken {
			log.Info().Msg("Webhook verified successfully")
			c.String(http.StatusOK, challenge)
		} else {
			c.Status(http.StatusForbidden)
		}
	} else {
		c.Status(http.StatusBadRequest)
	}
}

func (h *Handler) HandleMessage(c *gin.Context) {
	var payload pkgmodels.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Warn().Err(err).Msg("Error binding webhook JSON")
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, message := range change.Value.Messages {
				if err := h.processMessage(ctx, message); err != nil {
					log.Error().Err(err).Str("from", message.From).Str("message_id", message.ID).Msg("Failed to process inbound message")
				}
			}
		}
	}

	// The provider retries anything but 200, so failures are only logged.
	c.Status(http.StatusOK)
}

func (h *Handler) processMessage(ctx context.Context, message pkgmodels.InboundMessage) error {
	logger := log.With().Str("from", message.From).Str("message_id", message.ID).Logger()

	lead, err := h.findLead(ctx, message.From)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug().Msg("Inbound message from unknown number, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	at := h.messageTime(message.Timestamp)
	content := messageContent(message)
	if _, err := h.Leads.RecordInbound(ctx, lead, content, at); err != nil {
		return err
	}
	logger.Info().Uint("lead_id", lead.ID).Str("type", message.Type).Msg("Inbound message recorded")

	exec, err := h.Ledger.LatestUnreplied(ctx, lead.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if at.Before(exec.ExecutedAt) {
		logger.Debug().Uint("execution_id", exec.ID).Msg("Inbound message predates the latest execution, not a reply")
		return nil
	}

	_, err = h.Replies.MarkReplied(ctx, exec.ID, at)
	if errors.Is(err, store.ErrAlreadyReplied) {
		// Another delivery of the same message got there first.
		return nil
	}
	return err
}

// findLead matches the sender against stored phone numbers with and without
// the leading plus.
func (h *Handler) findLead(ctx context.Context, from string) (*models.Lead, error) {
	from = strings.TrimSpace(from)
	lead, err := h.Leads.FindByPhone(ctx, from)
	if !errors.Is(err, store.ErrNotFound) {
		return lead, err
	}
	if strings.HasPrefix(from, "+") {
		return h.Leads.FindByPhone(ctx, strings.TrimPrefix(from, "+"))
	}
	return h.Leads.FindByPhone(ctx, "+"+from)
}

// messageTime reads the provider's unix-seconds timestamp, falling back to
// now. Timestamps from the future are clamped.
func (h *Handler) messageTime(ts string) time.Time {
	now := h.Now()
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || secs <= 0 {
		return now
	}
	at := time.Unix(secs, 0).UTC()
	if at.After(now) {
		return now
	}
	return at
}

func messageContent(message pkgmodels.InboundMessage) string {
	switch message.Type {
	case "text":
		return message.Text.Body
	case "image", "video", "audio", "document":
		media := map[string]*pkgmodels.MediaMessage{
			"image":    message.Image,
			"video":    message.Video,
			"audio":    message.Audio,
			"document": message.Document,
		}[message.Type]
		content := "[" + message.Type + "]"
		if media == nil {
			return content
		}
		content += ":" + media.ID
		if media.Caption != "" {
			content += ":" + media.Caption
		} else if media.Filename != "" {
			content += ":" + media.Filename
		}
		return content
	case "interactive":
		if message.Interactive != nil {
			if r := message.Interactive.ButtonReply; r != nil {
				return r.Title
			}
			if r := message.Interactive.ListReply; r != nil {
				return r.Title
			}
		}
	}
	return "[" + message.Type + "]"
}
