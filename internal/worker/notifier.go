package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ridewell/ridewell/internal/model"
)

// Dispatcher delivers a user-facing notification for one status event.
// Push/SMS providers live behind this interface; failures are logged
// and dropped, never retried against the lifecycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.StatusEvent) error
}

// LogDispatcher is the default sink when no provider is configured.
type LogDispatcher struct {
	Log *zap.Logger
}

func (d *LogDispatcher) Dispatch(_ context.Context, ev model.StatusEvent) error {
	d.Log.Info("notification",
		zap.String("request_id", ev.RequestID.String()),
		zap.String("status", string(ev.Status)),
		zap.String("requester_id", ev.RequesterID.String()))
	return nil
}

// Notifier consumes committed status transitions from NATS and hands
// them to the dispatcher. QueueSubscribe keeps each event on exactly
// one worker when several API replicas run.
type Notifier struct {
	dispatcher Dispatcher
	natsConn   *nats.Conn
	log        *zap.Logger
}

func NewNotifier(dispatcher Dispatcher, nc *nats.Conn, log *zap.Logger) *Notifier {
	return &Notifier{dispatcher: dispatcher, natsConn: nc, log: log}
}

// Start subscribes and blocks until ctx is cancelled, then drains the
// subscription so in-flight events finish.
func (n *Notifier) Start(ctx context.Context) error {
	sub, err := n.natsConn.QueueSubscribe(model.SubjectRequestStatus, "notifier_group", func(m *nats.Msg) {
		var ev model.StatusEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			n.log.Error("notifier: failed to unmarshal status event", zap.Error(err))
			return
		}
		if err := n.dispatcher.Dispatch(ctx, ev); err != nil {
			n.log.Error("notifier: dispatch failed",
				zap.Error(err),
				zap.String("request_id", ev.RequestID.String()),
				zap.String("status", string(ev.Status)))
		}
	})
	if err != nil {
		return fmt.Errorf("notifier: failed to subscribe: %w", err)
	}

	n.log.Info("notification worker is running")

	<-ctx.Done()

	n.log.Info("notification worker shutting down, draining subscription")
	return sub.Drain()
}

// Stop implements the infrastructure.Server interface; shutdown is via ctx.
func (n *Notifier) Stop(ctx context.Context) error {
	return nil
}
