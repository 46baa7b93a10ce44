// Package queue holds the engine-internal dispatch loop that pulls READY
// notifications off the transport and hands them to the resume path.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/stairway/pkg/logger"
	"github.com/yungbote/stairway/queue"
)

const (
	// Pulls stay small so queued work spreads across instances instead of
	// piling onto whichever pulled first.
	maxMessagesPerPull = 2

	noPullSleep        = 5 * time.Second
	dispatchErrorSleep = 1 * time.Second
)

// ResumeFunc attempts to claim and launch the flight. took=false means
// another instance owns it already, which settles the message.
type ResumeFunc func(ctx context.Context, flightID string) (took bool, err error)

// Manager runs the pull loop against the transport.
type Manager struct {
	transport queue.Transport
	resume    ResumeFunc
	capacity  func() bool
	log       *logger.Logger

	wg   sync.WaitGroup
	stop context.CancelFunc
}

func NewManager(transport queue.Transport, resume ResumeFunc, capacity func() bool, baseLog *logger.Logger) *Manager {
	if capacity == nil {
		capacity = func() bool { return true }
	}
	return &Manager{
		transport: transport,
		resume:    resume,
		capacity:  capacity,
		log:       baseLog.With("component", "QueueManager"),
	}
}

// Enqueue publishes a READY notification for the flight.
func (m *Manager) Enqueue(ctx context.Context, flightID string) error {
	body, err := EncodeReady(flightID)
	if err != nil {
		return err
	}
	return m.transport.Enqueue(ctx, body)
}

// Start launches the pull loop. Stop (or cancelling parent) ends it.
func (m *Manager) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.stop = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
}

// Stop ends the pull loop and waits for the in-flight pull to settle.
func (m *Manager) Stop() {
	if m.stop != nil {
		m.stop()
	}
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !m.capacity() {
			if !sleep(ctx, noPullSleep) {
				return
			}
			continue
		}
		msgs, err := m.transport.Dequeue(ctx, maxMessagesPerPull)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("queue pull failed", "error", err)
			if !sleep(ctx, dispatchErrorSleep) {
				return
			}
			continue
		}
		if len(msgs) == 0 {
			if !sleep(ctx, noPullSleep) {
				return
			}
			continue
		}
		anyFailed := false
		for _, msg := range msgs {
			if !m.dispatch(ctx, msg) {
				anyFailed = true
			}
		}
		if anyFailed {
			if !sleep(ctx, dispatchErrorSleep) {
				return
			}
		}
	}
}

// dispatch returns false when the resume failed and the message was left for
// redelivery, so the loop backs off before pulling it again.
func (m *Manager) dispatch(ctx context.Context, msg *queue.Message) bool {
	env, err := decodeEnvelope(msg.Body)
	if err != nil {
		m.log.Warn("dropping undecodable queue message", "message_id", msg.ID, "error", err)
		m.settle(ctx, msg, true)
		return true
	}
	if env.Version != envelopeVersion || env.Type != typeReady {
		m.log.Warn("dropping unrecognized queue message",
			"message_id", msg.ID,
			"version", env.Version,
			"type", env.Type,
		)
		m.settle(ctx, msg, true)
		return true
	}
	took, err := m.resume(ctx, env.Payload.FlightID)
	if err != nil {
		m.log.Warn("resume from queue failed, leaving message for redelivery",
			"flight_id", env.Payload.FlightID,
			"error", err,
		)
		m.settle(ctx, msg, false)
		return false
	}
	if !took {
		m.log.Debug("flight already claimed elsewhere", "flight_id", env.Payload.FlightID)
	}
	m.settle(ctx, msg, true)
	return true
}

func (m *Manager) settle(ctx context.Context, msg *queue.Message, processed bool) {
	if err := msg.Ack(ctx, processed); err != nil {
		m.log.Warn("failed to settle queue message", "message_id", msg.ID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
