package services

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"presenced/models"
	"presenced/utils"
)

// fakeClock drives every component's notion of time in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testLogger() *utils.Logger {
	return &utils.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func newTestStore(clk *fakeClock) *MemoryStore {
	s := NewMemoryStore(10*time.Minute, 24*time.Hour)
	s.now = clk.Now
	return s
}

// testSub records everything the hub sends it.
type testSub struct {
	id   string
	fail bool

	mu     sync.Mutex
	events []models.Event
	closed int
}

func (s *testSub) ID() string { return s.id }

func (s *testSub) Send(evt models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("stream gone")
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *testSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *testSub) recorded() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *testSub) ofType(t models.EventType) []models.Event {
	var out []models.Event
	for _, evt := range s.recorded() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func (s *testSub) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
