// Package sse implements a Server-Sent Events broker for file change
// notifications.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// keepAliveInterval is how often an idle stream gets a comment line so
// proxies do not drop it.
var keepAliveInterval = 30 * time.Second

// Event is one message on the stream. StorageUID scopes it to subscribers
// of that storage; zero reaches everyone.
type Event struct {
	Type       string `json:"type"`
	Data       any    `json:"data"`
	StorageUID int    `json:"-"`
}

// FileEvent is the payload of every file.* event.
type FileEvent struct {
	UID        int64  `json:"uid"`
	StorageUID int    `json:"storageUid"`
	Identifier string `json:"identifier"`
}

// fileKinds maps change kinds to event types.
var fileKinds = map[string]string{
	"created": "file.created",
	"updated": "file.updated",
	"deleted": "file.deleted",
	"renamed": "file.renamed",
	"moved":   "file.moved",
}

type subscription struct {
	ch      chan []byte
	storage int
}

// Broker fans file events out to SSE clients.
//
// One goroutine owns the client set and the per-storage throttle state;
// the public methods reach it over channels.
type Broker struct {
	storageMin time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one storage.updated event
// per storage and throttle interval.
func NewBroker(storageThrottle time.Duration) *Broker {
	if storageThrottle <= 0 {
		storageThrottle = 2 * time.Second
	}

	b := &Broker{
		storageMin:    storageThrottle,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event.Type, payload), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]int)
	lastStorage := make(map[int]time.Time)

	broadcast := func(event Event) {
		raw, err := encode(event)
		if err != nil {
			return
		}
		for ch, storage := range clients {
			if storage != 0 && event.StorageUID != 0 && storage != event.StorageUID {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall everyone else.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.storage

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)
			if event.StorageUID == 0 {
				continue
			}
			now := time.Now()
			if now.Sub(lastStorage[event.StorageUID]) >= b.storageMin {
				lastStorage[event.StorageUID] = now
				broadcast(Event{
					Type:       "storage.updated",
					Data:       map[string]int{"storageUid": event.StorageUID},
					StorageUID: event.StorageUID,
				})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel. It is safe to call
// more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. storageUID limits it to events of one storage;
// zero subscribes to all of them.
func (b *Broker) Subscribe(storageUID int) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, storage: storageUID}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to the matching clients. An event scoped to a
// storage is followed by a throttled storage.updated for that storage.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishFileEvent publishes a file change of the given kind (created,
// updated, deleted, renamed, moved). Unknown kinds are dropped.
func (b *Broker) PublishFileEvent(kind string, storageUID int, uid int64, identifier string) {
	typ, ok := fileKinds[kind]
	if !ok {
		return
	}
	b.Publish(Event{
		Type:       typ,
		Data:       FileEvent{UID: uid, StorageUID: storageUID, Identifier: identifier},
		StorageUID: storageUID,
	})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// query parameter storage=<uid> limits the stream to one storage.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	storageUID := 0
	if raw := r.URL.Query().Get("storage"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "storage must be a positive integer", http.StatusBadRequest)
			return
		}
		storageUID = n
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(storageUID)
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
