package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"presenced/models"
	"presenced/services"
	"presenced/utils"
)

var errSubscriberClosed = errors.New("subscriber closed")

// subscriberBuffer bounds the per-subscriber event queue. A consumer that
// falls further behind than this loses intermediate events, not its
// connection.
const subscriberBuffer = 16

// streamSubscriber is the channel-backed core shared by the SSE and
// websocket transports. Send never blocks: it drops when the buffer is full
// and errors only once the subscriber is closed, so one stalled consumer
// cannot hold up a publish pass.
type streamSubscriber struct {
	id   string
	ch   chan models.Event
	done chan struct{}
	once sync.Once
}

func newStreamSubscriber() *streamSubscriber {
	return &streamSubscriber{
		id:   uuid.NewString(),
		ch:   make(chan models.Event, subscriberBuffer),
		done: make(chan struct{}),
	}
}

func (s *streamSubscriber) ID() string { return s.id }

func (s *streamSubscriber) Send(evt models.Event) error {
	select {
	case <-s.done:
		return errSubscriberClosed
	default:
	}
	select {
	case s.ch <- evt:
	default:
		// Lagging consumer; the next event catches it up.
	}
	return nil
}

func (s *streamSubscriber) Close() {
	s.once.Do(func() { close(s.done) })
}

type EventsHandler struct {
	engine *services.PresenceEngine
	logger *utils.Logger
}

func NewEventsHandler(engine *services.PresenceEngine, logger *utils.Logger) *EventsHandler {
	return &EventsHandler{engine: engine, logger: logger}
}

// ServeSSE streams labeled presence events to the client until it
// disconnects. New subscribers immediately receive the latest record for
// each source, then live updates.
func (h *EventsHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := newStreamSubscriber()
	h.engine.Subscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.engine.Unsubscribe(sub.id)
			return
		case <-sub.done:
			return
		case evt := <-sub.ch:
			if err := writeSSE(w, flusher, evt); err != nil {
				h.engine.Unsubscribe(sub.id)
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, evt models.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Subscribers are dashboards on arbitrary origins; the stream is
	// read-only and carries no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS mirrors the SSE stream over a websocket for consumers that cannot
// hold an EventSource open.
func (h *EventsHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := newStreamSubscriber()
	h.engine.Subscribe(sub)

	// Inbound frames are ignored; the read loop only detects disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.engine.Unsubscribe(sub.id)
				return
			}
		}
	}()

	for {
		select {
		case <-sub.done:
			conn.Close()
			return
		case evt := <-sub.ch:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				h.engine.Unsubscribe(sub.id)
				conn.Close()
				return
			}
		}
	}
}
