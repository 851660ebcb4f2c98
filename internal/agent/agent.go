package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okline/relay/internal/bus"
	"github.com/okline/relay/internal/retry"
	"github.com/okline/relay/internal/session"
	logpkg "github.com/okline/relay/pkg/log"
)

// resetCommand wipes the channel's session when received as the whole
// message.
const resetCommand = "!reset"

const (
	apologyReply     = "Sorry, I couldn't reach the agent service. Please try again in a moment."
	resetDoneReply   = "Session cleared. The next message starts a fresh conversation."
	resetNoopReply   = "No active session for this channel."
	emptyPromptReply = "I received an empty reply from the agent."
)

// Config carries the agent collaborator's settings.
type Config struct {
	// URL is the base address of the remote agent service.
	URL string
	// Token is an optional bearer credential.
	Token string
	// Retry bounds every remote call.
	Retry retry.Policy
}

// Agent is the bus.Agent implementation backed by the remote HTTP service.
// It owns session continuity: one remote session per channel, persisted in
// the session store across restarts.
type Agent struct {
	client   *Client
	sessions *session.Store
	policy   retry.Policy
	logger   logpkg.Logger
}

// New wires the collaborator. The session store must be loaded by the
// caller.
func New(cfg Config, sessions *session.Store, logger logpkg.Logger) (*Agent, error) {
	if cfg.URL == "" {
		return nil, errors.New("agent: empty service URL")
	}
	policy := cfg.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}
	return &Agent{
		client:   NewClient(cfg.URL, cfg.Token),
		sessions: sessions,
		policy:   policy,
		logger:   logger.WithComponent("agent"),
	}, nil
}

func (a *Agent) Start(context.Context) error { return nil }

func (a *Agent) Stop() error {
	a.client.Close()
	return nil
}

// Process answers one message. Session-persist failures propagate; remote
// exhaustion turns into an apology reply so the kernel still delivers
// something to the user.
func (a *Agent) Process(ctx context.Context, msg bus.Message) (string, error) {
	if strings.TrimSpace(msg.Content) == resetCommand {
		return a.reset(ctx, msg.ChannelID)
	}

	sessionID, err := a.ensureSession(ctx, msg.ChannelID)
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			a.logger.Error("session create exhausted",
				logpkg.Str("channel", msg.ChannelID), logpkg.Err(err))
			return apologyReply, nil
		}
		return "", err
	}

	reply, err := retry.Do(ctx, a.policy, func(ctx context.Context) (string, error) {
		return a.client.Prompt(ctx, sessionID, msg.Content)
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			a.logger.Error("prompt exhausted",
				logpkg.Str("channel", msg.ChannelID),
				logpkg.Int("attempts", exhausted.Attempts),
				logpkg.Err(exhausted.Err))
			return apologyReply, nil
		}
		return "", err
	}
	if reply == "" {
		return emptyPromptReply, nil
	}
	return reply, nil
}

// ensureSession returns the channel's remote session id, creating and
// persisting one on first contact. The stored id is immutable afterwards.
func (a *Agent) ensureSession(ctx context.Context, channelID string) (string, error) {
	if id, ok := a.sessions.Get(channelID); ok {
		return id, nil
	}
	id, err := retry.Do(ctx, a.policy, func(ctx context.Context) (string, error) {
		return a.client.CreateSession(ctx)
	})
	if err != nil {
		return "", err
	}
	if err := a.sessions.Set(channelID, id); err != nil {
		// The remote session exists but we could not record it; losing the
		// mapping is user-visible, so this propagates.
		return "", fmt.Errorf("record session for %s: %w", channelID, err)
	}
	a.logger.Info("session created",
		logpkg.Str("channel", channelID), logpkg.Str("session", id))
	return id, nil
}

// reset clears the channel's session. The local entry goes first so the user
// always observes a reset; the remote delete is best effort.
func (a *Agent) reset(ctx context.Context, channelID string) (string, error) {
	id, ok := a.sessions.Get(channelID)
	if !ok {
		return resetNoopReply, nil
	}
	if _, err := a.sessions.Delete(channelID); err != nil {
		return "", fmt.Errorf("clear session for %s: %w", channelID, err)
	}
	if _, err := retry.Do(ctx, a.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.client.DeleteSession(ctx, id)
	}); err != nil {
		a.logger.Warn("remote session delete failed",
			logpkg.Str("channel", channelID), logpkg.Str("session", id), logpkg.Err(err))
	}
	return resetDoneReply, nil
}
