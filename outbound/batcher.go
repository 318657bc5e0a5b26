// Package outbound implements the deferred per-channel flush described by
// the Synchronizer's data flow: commands enqueue channel messages here, and
// the flush (driven by the scheduler's quiescence callback, see package
// sched) coalesces each channel's pending messages into one batch frame,
// re-encodes it, and hands it to the owning adapter.
package outbound

import (
	log "github.com/sirupsen/logrus"

	"go.gazette.dev/sync/adapter"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/internal/logging"
	"go.gazette.dev/sync/internal/metrics"
	"go.gazette.dev/sync/wire"
)

// Sender delivers one Envelope to its addressed channels via the owning
// adapter(s). *adapter.Directory-backed implementations route by ChannelID.
type Sender interface {
	Send(envelope adapter.Envelope) (delivered int, err error)
}

// pending is one channel's accumulated queue between flushes.
type pending struct {
	messages []wire.ChannelMessage
	magic    wire.Magic
}

// Batcher accumulates outbound channel messages per ChannelID and flushes
// them on demand (driven by scheduler quiescence). QueueCap bounds the
// number of pending ephemeral messages per channel; zero means unbounded.
// Document sync messages (anything but KindEphemeral) are never dropped.
type Batcher struct {
	sender   Sender
	queueCap int
	queues   map[ids.ChannelID]*pending
	metrics  *metrics.Metrics
}

// NewBatcher returns an empty Batcher delivering flushed envelopes via
// sender. queueCap <= 0 means unbounded per-channel queues.
func NewBatcher(sender Sender, queueCap int) *Batcher {
	return &Batcher{sender: sender, queueCap: queueCap, queues: make(map[ids.ChannelID]*pending)}
}

// WithMetrics attaches m so queue depth is observed on every Enqueue/Flush.
func (b *Batcher) WithMetrics(m *metrics.Metrics) *Batcher {
	b.metrics = m
	return b
}

func (b *Batcher) observeQueueDepth(channelID ids.ChannelID, depth int) {
	if b.metrics == nil {
		return
	}
	b.metrics.OutboundQueued.WithLabelValues(channelID.String()).Set(float64(depth))
}

// Enqueue appends msg to channelID's pending queue. If the queue is at
// capacity and msg is expendable (an ephemeral message), the oldest
// ephemeral entry is dropped to make room; non-ephemeral messages are
// never dropped.
func (b *Batcher) Enqueue(channelID ids.ChannelID, magic wire.Magic, msg wire.ChannelMessage) {
	var q, ok = b.queues[channelID]
	if !ok {
		q = &pending{magic: magic}
		b.queues[channelID] = q
	}
	if b.queueCap > 0 && len(q.messages) >= b.queueCap {
		if !b.dropOldestEphemeral(q) {
			logging.WithFields(log.Fields{"channelId": channelID}).Warn("outbound: queue at capacity, message retained over cap")
		}
	}
	q.messages = append(q.messages, msg)
	b.observeQueueDepth(channelID, len(q.messages))
}

func (b *Batcher) dropOldestEphemeral(q *pending) bool {
	for i, m := range q.messages {
		if m.Kind == wire.KindEphemeral {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return true
		}
	}
	return false
}

// Pending reports whether any channel has queued messages.
func (b *Batcher) Pending() bool {
	for _, q := range b.queues {
		if len(q.messages) > 0 {
			return true
		}
	}
	return false
}

// Flush delivers every channel's queued messages in one envelope each, in
// enqueue order, then clears the queues. A channel with exactly one
// pending message is sent unwrapped; more than one is wrapped in a single
// KindBatch message, matching the protocol's "MAY send directly" clause.
func (b *Batcher) Flush() {
	for channelID, q := range b.queues {
		if len(q.messages) == 0 {
			continue
		}
		var body wire.ChannelMessage
		if len(q.messages) == 1 {
			body = q.messages[0]
		} else {
			body = wire.ChannelMessage{Kind: wire.KindBatch, Messages: q.messages}
		}
		var envelope = adapter.Envelope{
			ToChannelIDs: []ids.ChannelID{channelID},
			Message:      wire.Message{Magic: q.magic, Type: wire.DocUpdate, Channel: body},
		}
		if _, err := b.sender.Send(envelope); err != nil {
			logging.WithFields(log.Fields{"channelId": channelID, "err": err}).Warn("outbound: flush send failed")
		}
		q.messages = q.messages[:0]
		b.observeQueueDepth(channelID, 0)
	}
}
