// Package notify delivers best-effort notifications emitted by lifecycle
// transitions. The lifecycle engine only produces descriptors; delivery is
// asynchronous, timeout-bounded, and never fails a transition.
package notify

import (
	"context"
	"sync"
	"time"

	"yescholars.org/internal/obs"
)

// Notification is the side-effect descriptor a transition emits: a template
// id, a recipient, and template context. No mail transport details leak in.
type Notification struct {
	Template  string
	Recipient string
	Context   map[string]string
}

// Notifier accepts notifications without blocking the caller.
type Notifier interface {
	Notify(n Notification)
}

// Sender performs one delivery. Implementations must respect ctx.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Discard drops every notification. Used in tests and when mail is disabled.
type Discard struct{}

func (Discard) Notify(Notification) {}

// LogSender writes the notification as a JSON log line. The platform's mail
// transport lives outside this service; the log line is the handoff point.
type LogSender struct{}

func (LogSender) Send(_ context.Context, n Notification) error {
	obs.Emit(map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"type":      "notification",
		"template":  n.Template,
		"recipient": n.Recipient,
		"fields":    n.Context,
	})
	return nil
}

// Dispatcher fans notifications to a Sender from a bounded queue. A full
// queue drops the notification with a log line rather than blocking a
// request; a slow sender is cut off by the per-send timeout.
type Dispatcher struct {
	queue   chan Notification
	sender  Sender
	timeout time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher starts the delivery goroutine. Close must be called to drain.
func NewDispatcher(sender Sender, queueSize int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &Dispatcher{
		queue:   make(chan Notification, queueSize),
		sender:  sender,
		timeout: timeout,
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify enqueues the notification. Never blocks, never returns an error.
func (d *Dispatcher) Notify(n Notification) {
	select {
	case d.queue <- n:
	default:
		obs.ObserveNotification(n.Template, "dropped")
		obs.Emit(map[string]any{
			"level":    "warn",
			"msg":      "notification queue full, dropping",
			"template": n.Template,
		})
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.done:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sender.Send(ctx, n); err != nil {
		obs.ObserveNotification(n.Template, "error")
		obs.Emit(map[string]any{
			"level":    "warn",
			"msg":      "notification delivery failed",
			"template": n.Template,
			"error":    err.Error(),
		})
		return
	}
	obs.ObserveNotification(n.Template, "sent")
}

// Close stops the dispatcher and waits for queued deliveries to finish.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}
