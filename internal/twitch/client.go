// Package twitch maintains the chat connection: event parsing, the
// known-bot roster, mention detection, send rate limiting, reconnect
// backoff and ban quarantine.
package twitch

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	irc "github.com/gempir/go-twitch-irc/v3"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/clankbot/clank/internal/filter"
)

// CommandPrefix marks an inbound operator command. Dispatch happens
// before content filtering and storage.
const CommandPrefix = "!clank"

// Twitch allows 20 messages per 30 seconds for a regular user.
const (
	sendBudgetMessages = 20
	sendBudgetWindow   = 30 * time.Second
)

// Reconnect backoff bounds.
const (
	reconnectBaseDelay = 5 * time.Second
	reconnectMaxDelay  = 300 * time.Second
)

var (
	// ErrFiltered means the egress filter rejected the outbound text.
	ErrFiltered = errors.New("message blocked by egress filter")
	// ErrNotConnected means there is no live connection to send on.
	ErrNotConnected = errors.New("not connected")
)

// ConnState is the transport connection state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Credentials supplies a current OAuth token and the bot's login.
// Implemented by the auth manager.
type Credentials interface {
	EnsureValidToken(ctx context.Context) (string, error)
	GetBotUsername() string
}

// Config carries the transport settings.
type Config struct {
	Channels             []string
	KnownBots            []string // extra usernames to ignore
	MaxReconnectAttempts int      // 0 means retry forever
	BanRetryDelay        time.Duration
}

// Client is the chat transport. Run owns the connection lifecycle;
// Say may be called from any goroutine.
type Client struct {
	cfg    Config
	creds  Credentials
	egress filter.Filter
	logger *slog.Logger

	limiter *rate.Limiter
	banned  *bannedSet

	onMessage    func(MessageEvent)
	onModeration func(ModerationEvent)
	onCommand    func(CommandEvent)

	mu     sync.Mutex
	conn   *irc.Client
	state  ConnState
	ignore ignoreSet

	// Overridable in tests.
	runConn func(ctx context.Context) (bool, error)
	delayFn func(attempt int) time.Duration
}

// NewClient creates a transport client. Handlers are registered with
// the On* setters before Run is called.
func NewClient(cfg Config, creds Credentials, egress filter.Filter, logger *slog.Logger) *Client {
	if cfg.BanRetryDelay <= 0 {
		cfg.BanRetryDelay = time.Hour
	}
	c := &Client{
		cfg:     cfg,
		creds:   creds,
		egress:  egress,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(float64(sendBudgetMessages)/sendBudgetWindow.Seconds()), sendBudgetMessages),
		banned:  newBannedSet(cfg.BanRetryDelay),
		state:   StateDisconnected,
	}
	c.runConn = c.runOnce
	c.delayFn = reconnectDelay
	return c
}

// OnMessage registers the inbound message handler.
func (c *Client) OnMessage(fn func(MessageEvent)) { c.onMessage = fn }

// OnModeration registers the moderation event handler.
func (c *Client) OnModeration(fn func(ModerationEvent)) { c.onModeration = fn }

// OnCommand registers the operator command handler.
func (c *Client) OnCommand(fn func(CommandEvent)) { c.onCommand = fn }

// State reports the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run connects and blocks until ctx is cancelled or the reconnect
// budget is spent. Each attempt re-resolves the OAuth token and the
// eligible channel list.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return nil
		}

		if attempt == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		connected, err := c.runConn(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return nil
		}
		if connected {
			// A completed connection restarts the backoff schedule, so
			// the attempt budget counts consecutive failures only.
			attempt = 0
		}

		attempt++
		if c.cfg.MaxReconnectAttempts > 0 && attempt >= c.cfg.MaxReconnectAttempts {
			c.setState(StateFailed)
			return errors.Wrapf(err, "giving up after %d consecutive connection attempts", attempt)
		}

		delay := c.delayFn(attempt)
		c.logger.Warn("connection lost, reconnecting",
			"attempt", attempt,
			"delay", delay.Round(time.Millisecond),
			"err", err)

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce performs a single connect-until-failure cycle. The bool
// reports whether the connection was established at all.
func (c *Client) runOnce(ctx context.Context) (bool, error) {
	token, err := c.creds.EnsureValidToken(ctx)
	if err != nil {
		return false, errors.Wrap(err, "resolve token")
	}
	botName := c.creds.GetBotUsername()

	conn := irc.NewClient(botName, "oauth:"+token)
	conn.OnPrivateMessage(func(msg irc.PrivateMessage) { c.handlePrivate(botName, msg) })
	conn.OnClearMessage(c.handleClearMessage)
	conn.OnClearChatMessage(c.handleClearChat)
	conn.OnNoticeMessage(func(msg irc.NoticeMessage) { c.handleNotice(conn, msg) })

	targets := c.banned.Targets(c.cfg.Channels)
	var connected atomic.Bool
	conn.OnConnect(func() {
		connected.Store(true)
		c.setState(StateConnected)
		c.logger.Info("connected to chat", "bot", botName, "channels", targets)
	})
	conn.Join(targets...)

	c.mu.Lock()
	c.conn = conn
	c.ignore = newIgnoreSet(botName, c.cfg.KnownBots)
	c.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Disconnect()
		case <-done:
		}
	}()

	err = conn.Connect()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	return connected.Load(), err
}

// Say rate-limits and emits text to a channel, egress-filtering
// first. ErrFiltered callers must treat as "not sent".
func (c *Client) Say(ctx context.Context, channel, text string) error {
	filtered, ok := c.egress.FilterOutput(text)
	if !ok {
		c.logger.Warn("outbound message blocked by filter", "channel", channel)
		return ErrFiltered
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "send budget wait")
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	conn.Say(channel, filtered)
	return nil
}

// BannedChannels reports whether a channel is currently quarantined.
func (c *Client) IsBanned(channel string) bool { return c.banned.Contains(channel) }

func (c *Client) handlePrivate(botName string, msg irc.PrivateMessage) {
	login := msg.User.Name
	if login == "" || msg.User.ID == "" || isSystemUser(login) {
		return
	}

	c.mu.Lock()
	ignored := c.ignore.contains(login)
	c.mu.Unlock()
	if ignored {
		return
	}

	content := strings.TrimSpace(msg.Message)
	if strings.HasPrefix(strings.ToLower(content), CommandPrefix) {
		if c.onCommand != nil {
			c.onCommand(CommandEvent{
				Channel:     msg.Channel,
				UserID:      msg.User.ID,
				UserLogin:   login,
				DisplayName: msg.User.DisplayName,
				Badges:      msg.User.Badges,
				Args:        strings.Fields(content)[1:],
			})
		}
		return
	}

	ev := MessageEvent{
		Channel:     msg.Channel,
		UserID:      msg.User.ID,
		UserLogin:   login,
		DisplayName: msg.User.DisplayName,
		MessageID:   msg.ID,
		Content:     content,
		Time:        msg.Time,
		Badges:      msg.User.Badges,
	}
	if IsMention(botName, content) {
		ev.IsMention = true
		ev.MentionPayload = MentionPayload(botName, content)
	}
	if c.onMessage != nil {
		c.onMessage(ev)
	}
}

func (c *Client) handleClearMessage(msg irc.ClearMessage) {
	if c.onModeration == nil || msg.TargetMsgID == "" {
		return
	}
	c.onModeration(ModerationEvent{
		Kind:        ModerationDeleteMessage,
		Channel:     msg.Channel,
		TargetMsgID: msg.TargetMsgID,
	})
}

func (c *Client) handleClearChat(msg irc.ClearChatMessage) {
	if c.onModeration == nil {
		return
	}
	ev := ModerationEvent{Channel: msg.Channel}
	if msg.TargetUserID == "" {
		ev.Kind = ModerationClearChannel
	} else {
		ev.Kind = ModerationDeleteUser
		ev.TargetUserID = msg.TargetUserID
	}
	c.onModeration(ev)
}

// handleNotice quarantines channels the server rejects us from.
func (c *Client) handleNotice(conn *irc.Client, msg irc.NoticeMessage) {
	if msg.Channel == "" {
		return
	}
	if !isBanIndicator(msg.MsgID) && !isBanIndicator(msg.Message) {
		return
	}
	c.logger.Warn("channel rejected bot, quarantining",
		"channel", msg.Channel,
		"msg_id", msg.MsgID,
		"retry_after", c.cfg.BanRetryDelay)
	c.banned.Add(msg.Channel)
	conn.Depart(msg.Channel)
}

// reconnectDelay is exponential backoff with ±20% jitter: attempt #n
// waits min(300s, 5s·2^(n-1)) scaled by a random factor.
func reconnectDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay
	for i := 1; i < attempt && delay < reconnectMaxDelay; i++ {
		delay *= 2
	}
	if delay > reconnectMaxDelay {
		delay = reconnectMaxDelay
	}
	factor := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(delay) * factor)
}
