package bus

import (
	"time"

	"github.com/google/uuid"
)

// Message is the unit of inbound work: one user utterance from a chat source.
type Message struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	ChannelID string            `json:"channel_id"`
	UserID    string            `json:"user_id"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Response is the unit of outbound work. Source is carried over from the
// originating Message and selects the Output that delivers it.
type Response struct {
	ID                string            `json:"id"`
	Source            string            `json:"source"`
	ChannelID         string            `json:"channel_id"`
	UserID            string            `json:"user_id"`
	Content           string            `json:"content"`
	Timestamp         time.Time         `json:"timestamp"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	OriginalMessageID string            `json:"original_message_id"`
}

// NewResponse builds a Response answering msg with the given reply text.
func NewResponse(msg Message, content string) Response {
	return Response{
		ID:                uuid.NewString(),
		Source:            msg.Source,
		ChannelID:         msg.ChannelID,
		UserID:            msg.UserID,
		Content:           content,
		Timestamp:         time.Now(),
		OriginalMessageID: msg.ID,
	}
}

// Validate rejects malformed inbound packets before they reach the durable
// store.
func Validate(msg Message) error {
	switch {
	case msg.ID == "":
		return validationError("missing id")
	case msg.Source == "":
		return validationError("missing source")
	case msg.ChannelID == "":
		return validationError("missing channel_id")
	case msg.Content == "":
		return validationError("empty content")
	}
	return nil
}
