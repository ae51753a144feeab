// Package stream fans committed audit records out to live subscribers.
package stream

import (
	"context"
	"sync"

	"securecms.org/internal/audit"
	"securecms.org/internal/obs"
)

const bufferSize = 16

// Hub implements audit.Publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int

	onDrop      func(table string)
	onSubscribe func(n int)
}

type subscriber struct {
	ch    chan audit.Record
	table string
}

var _ audit.Publisher = (*Hub)(nil)

// New returns a hub with no subscribers.
func New() *Hub {
	return &Hub{
		subs:        make(map[int]subscriber),
		onDrop:      obs.ObserveStreamDrop,
		onSubscribe: obs.SetStreamSubscribers,
	}
}

// Subscribe registers a subscriber and returns a channel of records. An empty
// table receives every record. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, table string) <-chan audit.Record {
	ch := make(chan audit.Record, bufferSize)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{ch: ch, table: table}
	h.onSubscribe(len(h.subs))
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.onSubscribe(len(h.subs))
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers rec to every matching subscriber without blocking. Slow
// subscribers miss records, which audit_stream_dropped_total counts.
func (h *Hub) Publish(rec audit.Record) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.table != "" && sub.table != rec.TableName {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			h.onDrop(rec.TableName)
		}
	}
}
