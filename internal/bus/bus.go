package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AgentStatus represents an agent's lifecycle status on the bus
type AgentStatus string

const (
	StatusOnline  AgentStatus = "online"
	StatusOffline AgentStatus = "offline"
	StatusBusy    AgentStatus = "busy"
)

// Handler is an agent-supplied callback invoked asynchronously (on the bus's
// worker pool, never on its control path) when a matching message is
// delivered to that agent.
type Handler func(msg *Message)

// AgentRegistration is the bus-owned record for one registered agent,
// including its exclusively-owned mailbox. Created on Register, destroyed on
// Unregister.
type AgentRegistration struct {
	ID           string
	Info         map[string]interface{}
	Status       AgentStatus
	RegisteredAt time.Time

	mailbox *Mailbox
}

// SendOptions carries the optional parameters of Send/Broadcast.
// A nil *SendOptions means unicast-less normal-priority delivery with no TTL.
type SendOptions struct {
	Recipient     string
	Priority      Priority
	TTL           *time.Duration // nil means no expiry; zero expires immediately
	CorrelationID string
	ReplyTo       string
	Metadata      map[string]interface{}
}

// TTL is a convenience for building SendOptions with an expiry
func TTL(d time.Duration) *time.Duration { return &d }

// Config holds bus tuning parameters
type Config struct {
	MailboxCapacity   int
	Workers           int // Handler worker pool size
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	StatsInterval     time.Duration
}

// DefaultConfig returns the default bus configuration
func DefaultConfig() Config {
	return Config{
		MailboxCapacity:   100,
		Workers:           4,
		HeartbeatInterval: 30 * time.Second,
		SweepInterval:     10 * time.Second,
		StatsInterval:     60 * time.Second,
	}
}

// handlerTask is one pending asynchronous handler invocation
type handlerTask struct {
	agentID string
	handler Handler
	msg     *Message
}

// Bus routes messages between registered agents. Registration and
// subscription tables are guarded by a single coarse lock since they change
// rarely relative to message volume; each mailbox has its own internal lock.
type Bus struct {
	cfg Config

	mu      sync.RWMutex
	agents  map[string]*AgentRegistration
	subs    map[MessageType]map[string]Handler
	pending map[string]chan *Message // Outstanding requests keyed by correlation id

	dispatch chan handlerTask
	stop     chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	lifeMu   sync.Mutex

	counters *statsCounters
	log      zerolog.Logger
}

// New creates a bus with the given configuration. Call Start to launch the
// background loops and the handler worker pool.
func New(cfg Config) *Bus {
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = DefaultConfig().MailboxCapacity
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	return &Bus{
		cfg:      cfg,
		agents:   make(map[string]*AgentRegistration),
		subs:     make(map[MessageType]map[string]Handler),
		pending:  make(map[string]chan *Message),
		dispatch: make(chan handlerTask, cfg.Workers*16),
		stop:     make(chan struct{}),
		counters: newStatsCounters(),
		log:      zerolog.Nop(),
	}
}

// SetLogger sets the logger for the bus
func (b *Bus) SetLogger(log zerolog.Logger) {
	b.log = log.With().Str("component", "message_bus").Logger()
}

// Start launches handler workers and the heartbeat, expiry-sweep and stats
// refresh loops. Safe to call once per bus lifetime.
func (b *Bus) Start() {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if b.started && !b.stopped {
		b.log.Warn().Msg("Bus already started, ignoring")
		return
	}
	if b.stopped {
		b.stop = make(chan struct{})
		b.stopped = false
	}
	b.started = true

	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.handlerWorker(i)
	}

	if b.cfg.HeartbeatInterval > 0 {
		b.wg.Add(1)
		go b.heartbeatLoop()
	}
	if b.cfg.SweepInterval > 0 {
		b.wg.Add(1)
		go b.sweepLoop()
	}
	if b.cfg.StatsInterval > 0 {
		b.wg.Add(1)
		go b.statsLoop()
	}

	b.log.Info().
		Int("workers", b.cfg.Workers).
		Int("mailbox_capacity", b.cfg.MailboxCapacity).
		Msg("Message bus started")
}

// Stop signals all background goroutines and waits for them to finish
func (b *Bus) Stop() {
	b.lifeMu.Lock()
	if b.stopped || !b.started {
		b.lifeMu.Unlock()
		return
	}
	close(b.stop)
	b.stopped = true
	b.started = false
	b.lifeMu.Unlock()

	b.wg.Wait()
	b.log.Info().Msg("Message bus stopped")
}

// Register creates the agent's mailbox and adds it to the agent table.
// Fails with ErrAgentExists when the id is already taken.
func (b *Bus) Register(agentID string, info map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.agents[agentID]; exists {
		return ErrAgentExists
	}
	b.agents[agentID] = &AgentRegistration{
		ID:           agentID,
		Info:         info,
		Status:       StatusOnline,
		RegisteredAt: time.Now(),
		mailbox:      newMailbox(b.cfg.MailboxCapacity),
	}
	b.log.Info().Str("agent", agentID).Msg("Agent registered")
	return nil
}

// Unregister destroys the agent's mailbox and drops it from every
// subscription list. Fails with ErrUnknownAgent for unknown ids.
func (b *Bus) Unregister(agentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, exists := b.agents[agentID]
	if !exists {
		return ErrUnknownAgent
	}
	reg.mailbox.close()
	delete(b.agents, agentID)
	for _, subscribers := range b.subs {
		delete(subscribers, agentID)
	}
	b.log.Info().Str("agent", agentID).Msg("Agent unregistered")
	return nil
}

// SetStatus updates an agent's lifecycle status
func (b *Bus) SetStatus(agentID string, status AgentStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, exists := b.agents[agentID]
	if !exists {
		return ErrUnknownAgent
	}
	reg.Status = status
	return nil
}

// Subscribe adds the agent to the fan-out list for a message type. The
// handler is optional; when non-nil it is invoked on the worker pool for
// every matching message delivered to this agent.
func (b *Bus) Subscribe(agentID string, msgType MessageType, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.agents[agentID]; !exists {
		return ErrUnknownAgent
	}
	if b.subs[msgType] == nil {
		b.subs[msgType] = make(map[string]Handler)
	}
	b.subs[msgType][agentID] = handler
	return nil
}

// Unsubscribe removes the agent from a message type's fan-out list
func (b *Bus) Unsubscribe(agentID string, msgType MessageType) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.agents[agentID]; !exists {
		return ErrUnknownAgent
	}
	delete(b.subs[msgType], agentID)
	return nil
}

// Send delivers a message. With opts.Recipient set it enqueues into exactly
// that agent's mailbox; without it the message fans out to every current
// subscriber of the type except the sender. Returns the generated message id.
// Unicast failures (unknown recipient, full mailbox) are returned to the
// caller; broadcast delivery is best-effort per recipient.
func (b *Bus) Send(sender string, msgType MessageType, payload map[string]interface{}, opts *SendOptions) (string, error) {
	msg := b.buildMessage(sender, msgType, payload, opts)

	if msg.Recipient != "" {
		if err := b.deliver(msg.Recipient, msg); err != nil {
			b.counters.failed(msgType)
			return "", err
		}
		b.counters.sent(msgType)
		return msg.ID, nil
	}

	b.fanOut(msg)
	b.counters.sent(msgType)
	return msg.ID, nil
}

// Broadcast fans a message out to all subscribers of the type except the
// sender and returns the ids of the agents that actually accepted it.
func (b *Bus) Broadcast(sender string, msgType MessageType, payload map[string]interface{}, opts *SendOptions) ([]string, error) {
	if opts == nil {
		opts = &SendOptions{}
	}
	opts.Recipient = ""
	msg := b.buildMessage(sender, msgType, payload, opts)

	accepted := b.fanOut(msg)
	b.counters.sent(msgType)
	return accepted, nil
}

// Receive pops the highest-priority non-expired message from the agent's
// mailbox, blocking up to timeout. Returns (nil, nil) on timeout.
func (b *Bus) Receive(agentID string, timeout time.Duration) (*Message, error) {
	b.mu.RLock()
	reg, exists := b.agents[agentID]
	b.mu.RUnlock()
	if !exists {
		return nil, ErrUnknownAgent
	}
	msg := reg.mailbox.Pop(timeout)
	if msg != nil {
		b.counters.received(msg.Type)
	}
	return msg, nil
}

// Request sends a unicast message carrying a fresh correlation id and waits
// up to timeout for the matching response. The reply arrives on a dedicated
// one-shot channel rather than through the sender's mailbox, so slow mailbox
// consumers do not delay request round-trips. Returns ErrNoResponse on
// timeout.
func (b *Bus) Request(sender, recipient string, msgType MessageType, payload map[string]interface{}, timeout time.Duration) (*Message, error) {
	correlationID := uuid.New().String()
	replyCh := make(chan *Message, 1)

	b.mu.Lock()
	b.pending[correlationID] = replyCh
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, correlationID)
		b.mu.Unlock()
	}()

	ttl := timeout
	_, err := b.Send(sender, msgType, payload, &SendOptions{
		Recipient:     recipient,
		Priority:      PriorityHigh,
		TTL:           &ttl,
		CorrelationID: correlationID,
		ReplyTo:       sender,
	})
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return nil, ErrNoResponse
	}
}

// Respond addresses a reply back to the original sender using the request's
// correlation id. When the requester is still waiting, the reply completes
// its one-shot channel directly; otherwise it falls back to a normal unicast
// into the requester's mailbox.
func (b *Bus) Respond(sender string, original *Message, payload map[string]interface{}) (string, error) {
	target := original.ReplyTo
	if target == "" {
		target = original.Sender
	}

	reply := b.buildMessage(sender, original.Type, payload, &SendOptions{
		Recipient:     target,
		Priority:      PriorityHigh,
		CorrelationID: original.CorrelationID,
	})

	if original.CorrelationID != "" {
		b.mu.Lock()
		replyCh, waiting := b.pending[original.CorrelationID]
		if waiting {
			delete(b.pending, original.CorrelationID)
		}
		b.mu.Unlock()
		if waiting {
			replyCh <- reply
			b.counters.sent(reply.Type)
			b.counters.received(reply.Type)
			return reply.ID, nil
		}
	}

	if err := b.deliver(target, reply); err != nil {
		b.counters.failed(reply.Type)
		return "", err
	}
	b.counters.sent(reply.Type)
	return reply.ID, nil
}

// buildMessage assembles a message from options
func (b *Bus) buildMessage(sender string, msgType MessageType, payload map[string]interface{}, opts *SendOptions) *Message {
	msg := NewMessage(msgType, sender, payload)
	if opts == nil {
		return msg
	}
	msg.Recipient = opts.Recipient
	msg.Priority = opts.Priority
	msg.CorrelationID = opts.CorrelationID
	msg.ReplyTo = opts.ReplyTo
	msg.Metadata = opts.Metadata
	if opts.TTL != nil {
		msg.ExpiresAt = msg.CreatedAt.Add(*opts.TTL)
	}
	return msg
}

// deliver enqueues a message into one agent's mailbox and schedules the
// agent's handler for the type, if any.
func (b *Bus) deliver(agentID string, msg *Message) error {
	b.mu.RLock()
	reg, exists := b.agents[agentID]
	var handler Handler
	if subscribers := b.subs[msg.Type]; subscribers != nil {
		handler = subscribers[agentID]
	}
	b.mu.RUnlock()

	if !exists {
		return ErrUnknownAgent
	}
	if err := reg.mailbox.Push(msg); err != nil {
		return err
	}
	b.counters.delivered(msg.Type)
	if handler != nil {
		b.scheduleHandler(agentID, handler, msg)
	}
	return nil
}

// fanOut delivers an independent copy of the message to every subscriber of
// its type except the sender. One full mailbox does not block the others.
func (b *Bus) fanOut(msg *Message) []string {
	b.mu.RLock()
	subscribers := make([]string, 0, len(b.subs[msg.Type]))
	for agentID := range b.subs[msg.Type] {
		if agentID == msg.Sender {
			continue
		}
		subscribers = append(subscribers, agentID)
	}
	b.mu.RUnlock()

	accepted := make([]string, 0, len(subscribers))
	for _, agentID := range subscribers {
		if err := b.deliver(agentID, msg.copyFor(agentID)); err != nil {
			b.counters.failed(msg.Type)
			b.log.Debug().
				Err(err).
				Str("recipient", agentID).
				Str("type", string(msg.Type)).
				Msg("Broadcast delivery failed for recipient")
			continue
		}
		accepted = append(accepted, agentID)
	}
	return accepted
}

// scheduleHandler hands a handler invocation to the worker pool without
// blocking the delivery path. When the pool backlog is full the invocation is
// dropped; the message itself stays in the mailbox.
func (b *Bus) scheduleHandler(agentID string, handler Handler, msg *Message) {
	select {
	case b.dispatch <- handlerTask{agentID: agentID, handler: handler, msg: msg}:
	default:
		b.log.Warn().
			Str("agent", agentID).
			Str("type", string(msg.Type)).
			Msg("Handler backlog full, dropping invocation")
	}
}

// handlerWorker runs queued handler invocations, isolating panics so one
// failing subscriber never affects bus state or other subscribers.
func (b *Bus) handlerWorker(id int) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		case task := <-b.dispatch:
			b.runHandler(task)
		}
	}
}

func (b *Bus) runHandler(task handlerTask) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("agent", task.agentID).
				Str("message_id", task.msg.ID).
				Msg("Subscriber handler panicked")
		}
	}()
	task.handler(task.msg)
}

// heartbeatLoop pushes a heartbeat message to every online agent on the
// configured interval. Heartbeats expire after one interval so unconsumed
// ones never pile up.
func (b *Bus) heartbeatLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.mu.RLock()
			online := make([]string, 0, len(b.agents))
			for id, reg := range b.agents {
				if reg.Status == StatusOnline {
					online = append(online, id)
				}
			}
			b.mu.RUnlock()

			for _, agentID := range online {
				msg := NewMessage(TypeHeartbeat, "bus", map[string]interface{}{
					"timestamp": now.Unix(),
				})
				msg.Recipient = agentID
				msg.Priority = PriorityLow
				msg.ExpiresAt = now.Add(b.cfg.HeartbeatInterval)
				// Best effort: a full mailbox just misses one heartbeat
				_ = b.deliver(agentID, msg)
			}
		}
	}
}

// sweepLoop eagerly drops expired messages from every mailbox
func (b *Bus) sweepLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.mu.RLock()
			boxes := make([]*Mailbox, 0, len(b.agents))
			for _, reg := range b.agents {
				boxes = append(boxes, reg.mailbox)
			}
			b.mu.RUnlock()

			dropped := 0
			for _, mb := range boxes {
				dropped += mb.sweep(now)
			}
			if dropped > 0 {
				b.counters.expired(int64(dropped))
				b.log.Debug().Int("dropped", dropped).Msg("Expired messages swept")
			}
		}
	}
}

// statsLoop periodically refreshes the bus-wide statistics snapshot
func (b *Bus) statsLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			stats := b.Stats()
			b.log.Debug().
				Int("active_agents", stats.ActiveAgents).
				Int64("sent", stats.TotalSent).
				Int64("delivered", stats.TotalDelivered).
				Int64("expired", stats.TotalExpired).
				Msg("Bus statistics")
		}
	}
}

// Stats returns a point-in-time snapshot of bus statistics
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	depths := make(map[string]int, len(b.agents))
	active := 0
	for id, reg := range b.agents {
		depths[id] = reg.mailbox.Len()
		if reg.Status == StatusOnline {
			active++
		}
	}
	inFlight := len(b.pending)
	b.mu.RUnlock()

	return b.counters.snapshot(active, inFlight, depths)
}

// Agents returns a snapshot of the current registrations, without mailboxes
func (b *Bus) Agents() []AgentRegistration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]AgentRegistration, 0, len(b.agents))
	for _, reg := range b.agents {
		out = append(out, AgentRegistration{
			ID:           reg.ID,
			Info:         reg.Info,
			Status:       reg.Status,
			RegisteredAt: reg.RegisteredAt,
		})
	}
	return out
}
