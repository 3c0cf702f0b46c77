package service

import (
	"sync/atomic"
	"time"
)

// Stats counts broker messages.
type Stats struct {
	messagesReceived  atomic.Int64
	messagesProcessed atomic.Int64
	errors            atomic.Int64
	lastMessage       atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	MessagesReceived  int64      `json:"messages_received"`
	MessagesProcessed int64      `json:"messages_processed"`
	Errors            int64      `json:"errors"`
	LastMessageTime   *time.Time `json:"last_message_time,omitempty"`
}

func (s *Stats) received(at time.Time) {
	s.messagesReceived.Add(1)
	s.lastMessage.Store(at.UnixNano())
}

func (s *Stats) processed() { s.messagesProcessed.Add(1) }

func (s *Stats) failed() { s.errors.Add(1) }

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	out := StatsSnapshot{
		MessagesReceived:  s.messagesReceived.Load(),
		MessagesProcessed: s.messagesProcessed.Load(),
		Errors:            s.errors.Load(),
	}
	if ns := s.lastMessage.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		out.LastMessageTime = &t
	}
	return out
}
