package ws

import (
	"time"

	"github.com/okline/relay/internal/bus"
)

// Frame types on the wire. Clients send "message" and "subscribe"; the
// gateway sends "response" and "notice".
const (
	frameMessage   = "message"
	frameSubscribe = "subscribe"
	frameResponse  = "response"
	frameNotice    = "notice"
)

const noticeRateLimited = "rate_limited"

// frame is the single JSON envelope both directions share.
type frame struct {
	Type              string            `json:"type"`
	ID                string            `json:"id,omitempty"`
	ChannelID         string            `json:"channel_id,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	Content           string            `json:"content,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	OriginalMessageID string            `json:"original_message_id,omitempty"`
	Timestamp         time.Time         `json:"timestamp,omitempty"`
	Notice            string            `json:"notice,omitempty"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
}

func responseFrame(resp bus.Response) frame {
	return frame{
		Type:              frameResponse,
		ID:                resp.ID,
		ChannelID:         resp.ChannelID,
		UserID:            resp.UserID,
		Content:           resp.Content,
		Metadata:          resp.Metadata,
		OriginalMessageID: resp.OriginalMessageID,
		Timestamp:         resp.Timestamp,
	}
}

func rateLimitedFrame(channelID string, retryAfter int) frame {
	return frame{
		Type:              frameNotice,
		Notice:            noticeRateLimited,
		ChannelID:         channelID,
		RetryAfterSeconds: retryAfter,
	}
}
