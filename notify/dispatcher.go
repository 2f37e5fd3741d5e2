package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/despacho/log"
)

// DefaultBuffer is the default dispatcher queue depth.
const DefaultBuffer = 64

// DefaultPublishTimeout bounds one Publish call.
const DefaultPublishTimeout = 15 * time.Second

// Dispatcher is a Notifier that hands notifications to publishers on a
// background goroutine. When the queue is full, new notifications are
// dropped and counted rather than blocking the caller.
type Dispatcher struct {
	publishers []Publisher
	logger     *log.Logger
	sessionID  string
	timeout    time.Duration

	queue   chan Notification
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
	mu      sync.RWMutex
}

// NewDispatcher starts a dispatcher over publishers. sessionID is stamped
// on notifications that do not carry one.
func NewDispatcher(logger *log.Logger, sessionID string, buffer int, publishers ...Publisher) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		publishers: publishers,
		logger:     logger.With("notify"),
		sessionID:  sessionID,
		timeout:    DefaultPublishTimeout,
		queue:      make(chan Notification, buffer),
		done:       make(chan struct{}),
	}
	go d.loop()
	return d
}

// Notify implements Notifier. It never blocks.
func (d *Dispatcher) Notify(n Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		d.dropped.Add(1)
		return
	}
	if n.SessionID == "" {
		n.SessionID = d.sessionID
	}
	select {
	case d.queue <- n:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns how many notifications were discarded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting notifications, drains the queue and closes every
// publisher. Close errors are joined.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed.Swap(true) {
		d.mu.Unlock()
		return nil
	}
	close(d.queue)
	d.mu.Unlock()

	<-d.done

	var errs []error
	for _, p := range d.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for n := range d.queue {
		for _, p := range d.publishers {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			err := p.Publish(ctx, &n)
			cancel()
			if err != nil {
				d.logger.Warn("notification publish failed", map[string]any{
					"notify_level": string(n.Level),
					"op":    n.Op,
					"error": err.Error(),
				})
			}
		}
	}
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier returns a Notifier that logs each notification.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("notify")}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(n Notification) {
	fields := map[string]any{"op": n.Op, "notify_level": string(n.Level)}
	switch n.Level {
	case LevelError:
		l.logger.Warn(n.Message, fields)
	default:
		l.logger.Info(n.Message, fields)
	}
}
