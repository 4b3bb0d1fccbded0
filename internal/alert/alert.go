// Package alert pushes run lifecycle notifications (finished, interrupted,
// strategy failure) to external webhook channels.
package alert

import (
	"context"
	"sync"
	"time"

	"simtrader/internal/core"
)

// Level grades a notification.
type Level string

const (
	Info    Level = "INFO"
	Warning Level = "WARNING"
	Error   Level = "ERROR"
)

// Payload is one notification.
type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers a payload to one destination.
type Channel interface {
	Send(ctx context.Context, p Payload) error
	Name() string
}

// Notifier fans a notification out to every configured channel. Sends run on
// their own goroutines so a slow webhook never blocks the event loop.
type Notifier struct {
	mu       sync.RWMutex
	channels []Channel
	logger   core.ILogger
	inflight sync.WaitGroup
}

// NewNotifier creates a notifier with no channels.
func NewNotifier(logger core.ILogger) *Notifier {
	return &Notifier{logger: logger.WithField("component", "alert")}
}

// AddChannel registers a delivery channel.
func (n *Notifier) AddChannel(ch Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, ch)
	n.logger.Info("Alert channel added", "name", ch.Name())
}

// Notify sends the notification to all channels asynchronously.
func (n *Notifier) Notify(title, message string, level Level, fields map[string]string) {
	p := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.channels {
		n.inflight.Add(1)
		go func(c Channel) {
			defer n.inflight.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.Send(ctx, p); err != nil {
				n.logger.Error("Alert delivery failed", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Wait blocks until all in-flight sends have finished. Called on shutdown so
// a final notification is not lost to process exit.
func (n *Notifier) Wait() {
	n.inflight.Wait()
}
