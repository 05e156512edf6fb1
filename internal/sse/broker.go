// Package sse streams workspace events (compiles, reference changes, tree
// refreshes) to browser clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Event types.
const (
	EventTreeUpdated       = "tree.updated"
	EventTemplateCompiled  = "template.compiled"
	EventTemplateFailed    = "template.failed"
	EventReferencesChanged = "references.changed"
	EventReferencesInvalid = "references.invalid"
)

const (
	clientBuffer = 64
	historySize  = 128
	// KeepAlive is the interval between comment pings on idle streams.
	KeepAlive = 15 * time.Second
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// frame is an encoded event with its sequence number.
type frame struct {
	id    uint64
	typ   string
	bytes []byte
}

// subscription is one connected client. An empty filter accepts every type.
type subscription struct {
	ch     chan []byte
	filter []string
	// after replays retained frames with a larger id on subscribe.
	after uint64
}

func (s *subscription) accepts(typ string) bool {
	if len(s.filter) == 0 {
		return true
	}
	for _, f := range s.filter {
		if typ == f || strings.HasPrefix(typ, f+".") {
			return true
		}
	}
	return false
}

// Broker fans events out to SSE clients.
//
// A single loop goroutine owns the client set, the replay history and the
// tree.updated throttle. Public methods talk to it over channels.
type Broker struct {
	treeMin time.Duration

	subscribeCh   chan *subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	refreshCh     chan struct{}
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. tree.updated events are sent at most
// once per treeThrottle; a refresh inside the window is delivered when it ends.
func NewBroker(treeThrottle time.Duration) *Broker {
	if treeThrottle <= 0 {
		treeThrottle = 250 * time.Millisecond
	}

	b := &Broker{
		treeMin:       treeThrottle,
		subscribeCh:   make(chan *subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		refreshCh:     make(chan struct{}, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]*subscription)
	history := make([]frame, 0, historySize)
	var seq uint64
	var lastTree time.Time
	var pending *time.Timer
	var pendingCh <-chan time.Time

	deliver := func(sub *subscription, f frame) {
		if !sub.accepts(f.typ) {
			return
		}
		select {
		case sub.ch <- f.bytes:
		default:
			// Slow client; drop rather than stall the loop.
		}
	}

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		f := frame{
			id:    seq,
			typ:   event.Type,
			bytes: []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)),
		}
		if len(history) == historySize {
			copy(history, history[1:])
			history = history[:historySize-1]
		}
		history = append(history, f)

		for _, sub := range clients {
			deliver(sub, f)
		}
	}

	sendTree := func() {
		lastTree = time.Now()
		broadcast(Event{Type: EventTreeUpdated, Data: map[string]string{}})
	}

	for {
		select {
		case <-b.stopCh:
			if pending != nil {
				pending.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub
			if sub.after > 0 {
				for _, f := range history {
					if f.id > sub.after {
						deliver(sub, f)
					}
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case <-b.refreshCh:
			if pendingCh != nil {
				continue
			}
			if wait := b.treeMin - time.Since(lastTree); wait > 0 {
				pending = time.NewTimer(wait)
				pendingCh = pending.C
				continue
			}
			sendTree()

		case <-pendingCh:
			pending, pendingCh = nil, nil
			sendTree()

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client receiving the given event types, or all of them
// when none are given. A type also matches its dotted subtypes, so
// "template" selects template.compiled and template.failed.
func (b *Broker) Subscribe(types ...string) chan []byte {
	return b.subscribe(&subscription{ch: make(chan []byte, clientBuffer), filter: types})
}

func (b *Broker) subscribe(sub *subscription) chan []byte {
	if b.closed.Load() {
		close(sub.ch)
		return sub.ch
	}
	select {
	case b.subscribeCh <- sub:
	case <-b.stopped:
		close(sub.ch)
	}
	return sub.ch
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

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// Refresh requests a throttled tree.updated event. Bursts are coalesced in
// the loop.
func (b *Broker) Refresh() {
	if b.closed.Load() {
		return
	}
	select {
	case b.refreshCh <- struct{}{}:
	case <-b.stopped:
	}
}

// ReportParseError publishes a references.invalid event.
func (b *Broker) ReportParseError(path string, err error) {
	b.Publish(Event{Type: EventReferencesInvalid, Data: map[string]string{"path": path, "error": err.Error()}})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
//
// The optional "types" query parameter is a comma separated filter. A
// reconnecting client that sends Last-Event-ID receives the retained events it
// missed.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := &subscription{ch: make(chan []byte, clientBuffer)}
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				sub.filter = append(sub.filter, t)
			}
		}
	}
	if id, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		sub.after = id
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.subscribe(sub)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(KeepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
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
