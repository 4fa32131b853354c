package bus

import (
	"sync"
	"time"
)

// Stats is a read-only snapshot of bus activity
type Stats struct {
	StartedAt        time.Time             `json:"started_at"`
	ActiveAgents     int                   `json:"active_agents"`
	RequestsInFlight int                   `json:"requests_in_flight"`
	TotalSent        int64                 `json:"total_sent"`
	TotalDelivered   int64                 `json:"total_delivered"`
	TotalReceived    int64                 `json:"total_received"`
	TotalExpired     int64                 `json:"total_expired"`
	TotalFailed      int64                 `json:"total_failed"`
	SentByType       map[MessageType]int64 `json:"sent_by_type"`
	DeliveredByType  map[MessageType]int64 `json:"delivered_by_type"`
	QueueDepths      map[string]int        `json:"queue_depths"`
}

// statsCounters accumulates delivery counters under its own small lock so
// hot-path sends never contend with the registration tables.
type statsCounters struct {
	mu              sync.Mutex
	startedAt       time.Time
	sentByType      map[MessageType]int64
	deliveredByType map[MessageType]int64
	totalReceived   int64
	totalExpired    int64
	totalFailed     int64
}

func newStatsCounters() *statsCounters {
	return &statsCounters{
		startedAt:       time.Now(),
		sentByType:      make(map[MessageType]int64),
		deliveredByType: make(map[MessageType]int64),
	}
}

func (c *statsCounters) sent(t MessageType) {
	c.mu.Lock()
	c.sentByType[t]++
	c.mu.Unlock()
}

func (c *statsCounters) delivered(t MessageType) {
	c.mu.Lock()
	c.deliveredByType[t]++
	c.mu.Unlock()
}

func (c *statsCounters) received(t MessageType) {
	c.mu.Lock()
	c.totalReceived++
	c.mu.Unlock()
}

func (c *statsCounters) expired(n int64) {
	c.mu.Lock()
	c.totalExpired += n
	c.mu.Unlock()
}

func (c *statsCounters) failed(t MessageType) {
	c.mu.Lock()
	c.totalFailed++
	c.mu.Unlock()
}

func (c *statsCounters) snapshot(activeAgents, inFlight int, depths map[string]int) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		StartedAt:        c.startedAt,
		ActiveAgents:     activeAgents,
		RequestsInFlight: inFlight,
		TotalReceived:    c.totalReceived,
		TotalExpired:     c.totalExpired,
		TotalFailed:      c.totalFailed,
		SentByType:       make(map[MessageType]int64, len(c.sentByType)),
		DeliveredByType:  make(map[MessageType]int64, len(c.deliveredByType)),
		QueueDepths:      depths,
	}
	for t, n := range c.sentByType {
		s.SentByType[t] = n
		s.TotalSent += n
	}
	for t, n := range c.deliveredByType {
		s.DeliveredByType[t] = n
		s.TotalDelivered += n
	}
	return s
}
