package bot

import (
	"context"
	"strings"
	"time"

	"github.com/clankbot/clank/internal/cache"
	"github.com/clankbot/clank/store"
)

// GenerationKind selects the context-slice shape.
type GenerationKind string

const (
	KindSpontaneous GenerationKind = "spontaneous"
	KindResponse    GenerationKind = "response"
)

const contextCacheTTL = 30 * time.Second

// Diversity pass bounds for spontaneous slices.
const (
	diversityThreshold = 20 // below this, no selection happens
	diversityMinimum   = 10 // always take this many regardless of user
)

// interjections are filler messages that carry no context.
var interjections = map[string]struct{}{
	"lol": {}, "lul": {}, "kek": {}, "omg": {}, "wtf": {},
}

type contextKey struct {
	channel string
	kind    GenerationKind
}

// ContextManager builds the transcript slices fed into prompts, with
// a short per-(channel, kind) cache invalidated on moderation.
type ContextManager struct {
	store  *store.Store
	slices *cache.LRU[contextKey, []*store.Message]
}

func NewContextManager(st *store.Store) *ContextManager {
	return &ContextManager{
		store:  st,
		slices: cache.New[contextKey, []*store.Message](512, contextCacheTTL),
	}
}

// Build returns the context slice for a generation kind, honouring
// the channel's context limit.
func (m *ContextManager) Build(ctx context.Context, channel string, kind GenerationKind, contextLimit int) []*store.Message {
	key := contextKey{channel: channel, kind: kind}
	if cached, ok := m.slices.Get(key); ok {
		return cached
	}

	limit := effectiveLimit(contextLimit, kind)
	messages := filterForContext(m.store.GetRecentMessages(ctx, channel, limit))
	if kind == KindSpontaneous {
		messages = selectDiverse(messages)
	}

	m.slices.Set(key, messages, contextCacheTTL)
	return messages
}

// Invalidate drops both cached slices for a channel. Called on every
// moderation event so deleted messages never reach a prompt.
func (m *ContextManager) Invalidate(channel string) {
	m.slices.Remove(contextKey{channel: channel, kind: KindSpontaneous})
	m.slices.Remove(contextKey{channel: channel, kind: KindResponse})
}

// Sweep evicts expired cache entries.
func (m *ContextManager) Sweep() int {
	return m.slices.CleanupExpired()
}

// effectiveLimit shrinks the response slice to leave prompt room for
// the user's input, never below 15 and never above the configured
// limit.
func effectiveLimit(base int, kind GenerationKind) int {
	if kind != KindResponse {
		return base
	}
	reduced := 3 * base / 4
	if reduced < 15 {
		reduced = 15
	}
	if reduced > base {
		reduced = base
	}
	return reduced
}

// filterForContext drops entries too short to inform a prompt and
// bare interjections.
func filterForContext(messages []*store.Message) []*store.Message {
	out := make([]*store.Message, 0, len(messages))
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if len(content) < 3 {
			continue
		}
		if _, skip := interjections[strings.ToLower(content)]; skip {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// selectDiverse walks the slice newest-first preferring unseen users,
// capping at 20 entries, then restores chronological order.
func selectDiverse(messages []*store.Message) []*store.Message {
	if len(messages) <= diversityThreshold {
		return messages
	}

	selected := make([]*store.Message, 0, diversityThreshold)
	seen := make(map[string]struct{})
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if _, dup := seen[msg.UserID]; !dup || len(selected) < diversityMinimum {
			selected = append(selected, msg)
			seen[msg.UserID] = struct{}{}
			if len(selected) >= diversityThreshold {
				break
			}
		}
	}

	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}
	return selected
}
