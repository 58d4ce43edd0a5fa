package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

// scriptedSender returns canned delivery results in call order, repeating the
// last entry once the script runs out.
type scriptedSender struct {
	mu      sync.Mutex
	script  []scriptedDelivery
	calls   int
	byEvent map[string]int
}

type scriptedDelivery struct {
	status int
	err    error
	delay  time.Duration
}

func newScriptedSender(script ...scriptedDelivery) *scriptedSender {
	return &scriptedSender{script: script, byEvent: map[string]int{}}
}

func (s *scriptedSender) Send(ctx context.Context, event Event) (DeliveryResult, error) {
	s.mu.Lock()
	index := s.calls
	if index >= len(s.script) {
		index = len(s.script) - 1
	}
	s.calls++
	s.byEvent[event.ID]++
	step := scriptedDelivery{status: 200}
	if index >= 0 {
		step = s.script[index]
	}
	s.mu.Unlock()

	if step.delay > 0 {
		select {
		case <-ctx.Done():
			return DeliveryResult{}, ctx.Err()
		case <-time.After(step.delay):
		}
	}
	if step.err != nil {
		return DeliveryResult{}, step.err
	}
	return DeliveryResult{StatusCode: step.status, Duration: step.delay}, nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedSender) attemptsFor(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byEvent[eventID]
}

// manualClock steps time explicitly so backoff windows elapse without
// sleeping.
type manualClock struct {
	mu sync.Mutex
	at time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{at: start.UTC()}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

func mustAppend(t interface {
	Fatalf(format string, args ...any)
}, store EventStore, id string, eventType string) Event {
	event, err := store.Append(context.Background(), AppendEventInput{
		ID:      id,
		Type:    eventType,
		Source:  "test",
		Payload: []byte(fmt.Sprintf(`{"id":%q}`, id)),
	})
	if err != nil {
		t.Fatalf("append %s: %v", id, err)
	}
	return event
}
