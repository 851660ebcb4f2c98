package dispatch

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/okline/relay/internal/bus"
)

// ingestFilter wraps a compiled CEL program evaluated against every inbound
// message before it is queued. When disabled, Admit always returns true.
type ingestFilter struct {
	prog    cel.Program
	enabled bool
}

func newIngestFilter(expr string) (ingestFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ingestFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("source", cel.StringType),
		cel.Variable("channel_id", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("content", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
		// Expose user metadata map for field filtering
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return ingestFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return ingestFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return ingestFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return ingestFilter{}, err
	}
	return ingestFilter{prog: prog, enabled: true}, nil
}

// Admit evaluates the compiled expression against a message. When disabled,
// returns true; evaluation errors reject the message.
func (f ingestFilter) Admit(msg bus.Message) bool {
	if !f.enabled {
		return true
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"source":     msg.Source,
		"channel_id": msg.ChannelID,
		"user_id":    msg.UserID,
		"content":    msg.Content,
		"size":       int64(len(msg.Content)),
		"ts_ms":      msg.Timestamp.UnixMilli(),
		"metadata":   metadata,
		"now_ms":     time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
