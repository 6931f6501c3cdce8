package command

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// InterSentenceDelay follows every transmitted sentence so the vehicle's
// ingest buffer keeps up.
const InterSentenceDelay = 5 * time.Millisecond

// Sender is the outbound half of the vehicle link.
type Sender interface {
	Send(sentence string) error
}

// Dispatcher turns commands into sentences on the link.
//
// A Dispatcher is safe for concurrent use. Each command, settle delay
// included, and each whole mission upload holds the link exclusively, so a
// command from another goroutine never lands inside a file download.
type Dispatcher struct {
	tx    Sender
	sleep func(ctx context.Context, d time.Duration) error

	mu sync.Mutex

	sent atomic.Uint64
	last atomic.Value // string
}

type Stats struct {
	Sent uint64 `json:"sent"`
	Last string `json:"last,omitempty"`
}

func NewDispatcher(tx Sender) *Dispatcher {
	return newDispatcher(tx, sleepCtx)
}

func newDispatcher(tx Sender, sleep func(ctx context.Context, d time.Duration) error) *Dispatcher {
	return &Dispatcher{tx: tx, sleep: sleep}
}

// Send transmits c and then observes the inter-sentence delay and the
// command's settle delay.
func (d *Dispatcher) Send(ctx context.Context, c Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(ctx, c)
}

func (d *Dispatcher) send(ctx context.Context, c Command) error {
	s, err := c.Sentence()
	if err != nil {
		return err
	}
	if err := d.sendLine(ctx, s); err != nil {
		return fmt.Errorf("send %s: %w", c.Kind, err)
	}
	d.last.Store(c.Kind.String())
	if settle := c.Settle(); settle > 0 {
		return d.sleep(ctx, settle)
	}
	return nil
}

func (d *Dispatcher) sendLine(ctx context.Context, sentence string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.tx.Send(sentence); err != nil {
		return err
	}
	d.sent.Add(1)
	return d.sleep(ctx, InterSentenceDelay)
}

func (d *Dispatcher) SetStandby(ctx context.Context) error {
	return d.Send(ctx, Standby())
}

func (d *Dispatcher) SetStationKeep(ctx context.Context) error {
	return d.Send(ctx, StationKeep())
}

func (d *Dispatcher) SetGoToERP(ctx context.Context) error {
	return d.Send(ctx, GoToERP())
}

func (d *Dispatcher) SetWaypointMode(ctx context.Context) error {
	return d.Send(ctx, WaypointMode())
}

// SetThruster returns after the motor spin-up delay.
func (d *Dispatcher) SetThruster(ctx context.Context, thrust, thrustDiff int) error {
	c, err := Thruster(thrust, thrustDiff)
	if err != nil {
		return err
	}
	return d.Send(ctx, c)
}

func (d *Dispatcher) SetHeading(ctx context.Context, thrust, degrees int) error {
	c, err := Heading(thrust, degrees)
	if err != nil {
		return err
	}
	return d.Send(ctx, c)
}

// UploadMission runs the file-download protocol: begin with the exact line
// count, the PSEAR throttle line, the ERP as ordinal 0, the waypoints in
// order, then end. An invalid mission is rejected before anything is sent.
func (d *Dispatcher) UploadMission(ctx context.Context, m Mission) error {
	payload, err := m.Payload()
	if err != nil {
		return err
	}
	begin, err := BeginFileDownload(m.LineCount())
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.send(ctx, begin); err != nil {
		return fmt.Errorf("upload mission: %w", err)
	}
	for i, line := range payload {
		if err := d.sendLine(ctx, line); err != nil {
			return fmt.Errorf("upload mission line %d/%d: %w", i+1, len(payload), err)
		}
	}
	if err := d.send(ctx, EndFileDownload()); err != nil {
		return fmt.Errorf("upload mission: %w", err)
	}
	log.Printf("mission uploaded waypoints=%d lines=%d throttle=%d", len(m.Waypoints), m.LineCount(), m.Throttle)
	return nil
}

func (d *Dispatcher) Stats() Stats {
	last, _ := d.last.Load().(string)
	return Stats{Sent: d.sent.Load(), Last: last}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
