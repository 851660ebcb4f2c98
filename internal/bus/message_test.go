package bus

import (
	"errors"
	"testing"
	"time"
)

func validMessage() Message {
	return Message{
		ID:        "m1",
		Source:    "ws",
		ChannelID: "c1",
		UserID:    "u1",
		Content:   "hello",
		Timestamp: time.Now(),
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	if err := Validate(validMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := map[string]func(*Message){
		"id":      func(m *Message) { m.ID = "" },
		"source":  func(m *Message) { m.Source = "" },
		"channel": func(m *Message) { m.ChannelID = "" },
		"content": func(m *Message) { m.Content = "" },
	}
	for name, mutate := range cases {
		m := validMessage()
		mutate(&m)
		err := Validate(m)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: want ErrValidation, got %v", name, err)
		}
	}
}

func TestNewResponseLinksOriginal(t *testing.T) {
	msg := validMessage()
	resp := NewResponse(msg, "hi back")
	if resp.OriginalMessageID != msg.ID {
		t.Fatalf("original id not carried: %q", resp.OriginalMessageID)
	}
	if resp.Source != msg.Source || resp.ChannelID != msg.ChannelID {
		t.Fatalf("routing fields not carried over")
	}
	if resp.ID == "" || resp.ID == msg.ID {
		t.Fatalf("response needs a fresh id, got %q", resp.ID)
	}
	if resp.Content != "hi back" {
		t.Fatalf("content: %q", resp.Content)
	}
}

func TestTransientWrapping(t *testing.T) {
	base := errors.New("connection reset")
	if !errors.Is(Transient(base), ErrTransient) {
		t.Fatalf("Transient should match ErrTransient")
	}
	if Transient(nil) != nil {
		t.Fatalf("Transient(nil) must be nil")
	}
}
