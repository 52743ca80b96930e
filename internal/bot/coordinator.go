// Package bot orchestrates ingest: filtering, storage, trigger
// evaluation and the two generation pipelines, with per-channel
// ordering preserved by per-channel workers.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clankbot/clank/internal/filter"
	"github.com/clankbot/clank/internal/metrics"
	"github.com/clankbot/clank/internal/ollama"
	"github.com/clankbot/clank/internal/twitch"
	"github.com/clankbot/clank/store"
)

// channelQueueSize bounds each per-channel event queue. A full queue
// drops the newest event rather than blocking the transport reader.
const channelQueueSize = 256

// Emitter sends text to a channel. twitch.ErrFiltered means the
// egress filter rejected it.
type Emitter interface {
	Say(ctx context.Context, channel, text string) error
}

// Inference produces chat lines from transcript context.
type Inference interface {
	GenerateSpontaneous(ctx context.Context, model string, messages []*store.Message) (string, error)
	GenerateResponse(ctx context.Context, model string, messages []*store.Message, userInput, userName string) (string, error)
}

// Recorder buffers stored measurements.
type Recorder interface {
	Record(channel, metricType string, value float64)
}

// event is the per-channel queue element; exactly one field is set.
type event struct {
	msg *twitch.MessageEvent
	mod *twitch.ModerationEvent
}

// Coordinator routes inbound events through the ingest pipeline.
type Coordinator struct {
	store        *store.Store
	ingress      filter.Filter
	inference    Inference
	emitter      Emitter
	triggers     *TriggerEngine
	contexts     *ContextManager
	recorder     Recorder
	exporter     *metrics.Exporter // optional
	logger       *slog.Logger
	defaultModel string

	mu      sync.Mutex
	queues  map[string]chan event
	wg      sync.WaitGroup
	runCtx  context.Context
	started bool
}

// Options carries the coordinator's collaborators.
type Options struct {
	Store        *store.Store
	Ingress      filter.Filter
	Inference    Inference
	Emitter      Emitter
	Recorder     Recorder
	Exporter     *metrics.Exporter
	Logger       *slog.Logger
	DefaultModel string
}

func NewCoordinator(opts Options) *Coordinator {
	return &Coordinator{
		store:        opts.Store,
		ingress:      opts.Ingress,
		inference:    opts.Inference,
		emitter:      opts.Emitter,
		triggers:     NewTriggerEngine(opts.Store, opts.Logger),
		contexts:     NewContextManager(opts.Store),
		recorder:     opts.Recorder,
		exporter:     opts.Exporter,
		logger:       opts.Logger,
		defaultModel: opts.DefaultModel,
	}
}

// Start readies the coordinator; ctx bounds all worker processing.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runCtx = ctx
	c.queues = make(map[string]chan event)
	c.started = true
}

// Stop closes all queues and waits for in-flight work to drain.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	for _, q := range c.queues {
		close(q)
	}
	c.queues = nil
	c.mu.Unlock()
	c.wg.Wait()
}

// HandleMessage enqueues a chat message for its channel worker.
// Called from the transport goroutine.
func (c *Coordinator) HandleMessage(ev twitch.MessageEvent) {
	c.enqueue(ev.Channel, event{msg: &ev})
}

// HandleModeration enqueues a moderation event. It shares the channel
// queue with messages so both are applied in transport order.
func (c *Coordinator) HandleModeration(ev twitch.ModerationEvent) {
	c.enqueue(ev.Channel, event{mod: &ev})
}

func (c *Coordinator) enqueue(channel string, ev event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	q, ok := c.queues[channel]
	if !ok {
		q = make(chan event, channelQueueSize)
		c.queues[channel] = q
		c.wg.Add(1)
		go c.worker(channel, q)
	}

	// The send stays under the mutex: it never blocks, and Stop closes
	// queues under the same lock, so a handler can't race the close.
	select {
	case q <- ev:
	default:
		c.logger.Warn("channel queue full, dropping event", "channel", channel)
	}
}

func (c *Coordinator) worker(channel string, queue chan event) {
	defer c.wg.Done()
	for ev := range queue {
		switch {
		case ev.msg != nil:
			c.processMessage(c.runCtx, *ev.msg)
		case ev.mod != nil:
			c.processModeration(c.runCtx, *ev.mod)
		}
	}
}

func (c *Coordinator) processMessage(ctx context.Context, ev twitch.MessageEvent) {
	content, ok := c.ingress.FilterInput(ev.Content)
	if !ok {
		c.recorder.Record(ev.Channel, metrics.MetricFilterBlockInput, 1)
		if c.exporter != nil {
			c.exporter.ObserveFilterBlock(ev.Channel, "input")
		}
		return
	}

	msg := &store.Message{
		MessageID:       ev.MessageID,
		Channel:         ev.Channel,
		UserID:          ev.UserID,
		UserDisplayName: ev.DisplayName,
		Content:         content,
		CreatedTs:       ev.Time.Unix(),
	}
	if err := c.store.StoreMessage(ctx, msg); err != nil {
		c.logger.Error("message store failed", "channel", ev.Channel, "err", err)
		return
	}

	c.recorder.Record(ev.Channel, metrics.MetricMessagesProcessed, 1)
	if c.exporter != nil {
		c.exporter.ObserveIngest(ev.Channel)
	}

	if ev.IsMention {
		c.handleMention(ctx, ev)
		return
	}

	if _, err := c.store.IncrementMessageCount(ctx, ev.Channel); err != nil {
		c.logger.Warn("message count increment failed", "channel", ev.Channel, "err", err)
	}
	c.maybeSpontaneous(ctx, ev.Channel)
}

func (c *Coordinator) handleMention(ctx context.Context, ev twitch.MessageEvent) {
	allowed, err := c.triggers.CanRespondToMention(ctx, ev.Channel, ev.UserID)
	if err != nil {
		c.logger.Warn("mention trigger check failed", "channel", ev.Channel, "err", err)
		return
	}
	if !allowed {
		c.recorder.Record(ev.Channel, metrics.MetricRateLimitResponse, 1)
		return
	}

	cfg, err := c.store.GetConfig(ctx, ev.Channel)
	if err != nil {
		c.logger.Warn("config read failed", "channel", ev.Channel, "err", err)
		return
	}

	model := c.resolveModel(cfg)
	transcript := c.contexts.Build(ctx, ev.Channel, KindResponse, cfg.ContextLimit)

	start := time.Now()
	reply, err := c.inference.GenerateResponse(ctx, model, transcript, ev.MentionPayload, ev.DisplayName)
	latency := time.Since(start)
	if c.exporter != nil {
		c.exporter.ObserveGeneration(ev.Channel, string(KindResponse), model, latency, ollama.ErrorKind(err))
	}
	if err != nil {
		c.recorder.Record(ev.Channel, metrics.ErrorMetric(string(KindResponse), ollama.ErrorKind(err)), 1)
		return
	}
	if reply == "" {
		return
	}

	c.recorder.Record(ev.Channel, metrics.MetricResponseTime, float64(latency.Milliseconds()))

	if err := c.emit(ctx, ev.Channel, reply); err != nil {
		return
	}

	c.recorder.Record(ev.Channel, metrics.SuccessMetric(string(KindResponse)), 1)
	if err := c.triggers.RecordUserResponse(ctx, ev.Channel, ev.UserID); err != nil {
		c.logger.Warn("user cooldown record failed", "channel", ev.Channel, "user_id", ev.UserID, "err", err)
	}
}

func (c *Coordinator) maybeSpontaneous(ctx context.Context, channel string) {
	ready, cfg, err := c.triggers.ShouldGenerateSpontaneous(ctx, channel)
	if err != nil {
		c.logger.Warn("spontaneous trigger check failed", "channel", channel, "err", err)
		return
	}
	if !ready {
		if cfg != nil && cfg.MessageCount >= cfg.MessageThreshold {
			c.recorder.Record(channel, metrics.MetricRateLimitSpontaneous, 1)
		}
		return
	}

	model := c.resolveModel(cfg)
	transcript := c.contexts.Build(ctx, channel, KindSpontaneous, cfg.ContextLimit)
	if len(transcript) < minContextMessages {
		return
	}

	start := time.Now()
	reply, err := c.inference.GenerateSpontaneous(ctx, model, transcript)
	latency := time.Since(start)
	if c.exporter != nil {
		c.exporter.ObserveGeneration(channel, string(KindSpontaneous), model, latency, ollama.ErrorKind(err))
	}
	if err != nil {
		c.recorder.Record(channel, metrics.ErrorMetric(string(KindSpontaneous), ollama.ErrorKind(err)), 1)
		return
	}
	if reply == "" {
		return
	}

	c.recorder.Record(channel, metrics.MetricResponseTime, float64(latency.Milliseconds()))

	if err := c.emit(ctx, channel, reply); err != nil {
		return
	}

	// Counter reset and cooldown stamp happen only after the send went
	// out, so a failed emit can retrigger on the next ingest.
	c.recorder.Record(channel, metrics.SuccessMetric(string(KindSpontaneous)), 1)
	if err := c.triggers.RecordSpontaneousGeneration(ctx, channel); err != nil {
		c.logger.Warn("spontaneous record failed", "channel", channel, "err", err)
	}
}

func (c *Coordinator) emit(ctx context.Context, channel, text string) error {
	err := c.emitter.Say(ctx, channel, text)
	if err == nil {
		return nil
	}
	if err == twitch.ErrFiltered {
		c.recorder.Record(channel, metrics.MetricFilterBlockOutput, 1)
		if c.exporter != nil {
			c.exporter.ObserveFilterBlock(channel, "output")
		}
	} else {
		c.logger.Warn("emit failed", "channel", channel, "err", err)
	}
	return err
}

func (c *Coordinator) processModeration(ctx context.Context, ev twitch.ModerationEvent) {
	switch ev.Kind {
	case twitch.ModerationDeleteMessage:
		if _, err := c.store.DeleteMessage(ctx, ev.TargetMsgID); err != nil {
			c.logger.Warn("message deletion failed", "channel", ev.Channel, "message_id", ev.TargetMsgID, "err", err)
		}
	case twitch.ModerationDeleteUser:
		if _, err := c.store.DeleteUserMessages(ctx, ev.Channel, ev.TargetUserID); err != nil {
			c.logger.Warn("user message deletion failed", "channel", ev.Channel, "user_id", ev.TargetUserID, "err", err)
		}
	case twitch.ModerationClearChannel:
		if _, err := c.store.ClearChannel(ctx, ev.Channel); err != nil {
			c.logger.Warn("channel clear failed", "channel", ev.Channel, "err", err)
		}
		if err := c.store.ResetMessageCount(ctx, ev.Channel); err != nil {
			c.logger.Warn("count reset failed", "channel", ev.Channel, "err", err)
		}
	}
	c.contexts.Invalidate(ev.Channel)
}

// SweepContextCache evicts expired context slices on a fixed cadence.
func (c *Coordinator) SweepContextCache(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.contexts.Sweep()
		}
	}
}

func (c *Coordinator) resolveModel(cfg *store.ChannelConfig) string {
	if cfg != nil && cfg.ModelOverride != nil && *cfg.ModelOverride != "" {
		return *cfg.ModelOverride
	}
	return c.defaultModel
}
