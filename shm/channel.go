/*
 * Copyright 2025 The shmring Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/coreipc/shmring/ringbuf"
)

// Channel is one side's view of a duplex segment: a TX ring this side
// produces into and an RX ring it consumes from. The SPSC contract of the
// underlying rings holds as long as exactly one process uses the Host view
// and exactly one the Peer view.
type Channel struct {
	tx, rx         *ringbuf.Buf
	txBell, rxBell *Doorbell
}

// TX returns the ring this side writes to.
func (c *Channel) TX() *ringbuf.Buf { return c.tx }

// RX returns the ring this side reads from.
func (c *Channel) RX() *ringbuf.Buf { return c.rx }

// Bell returns the doorbell the peer waits on for this side's TX data.
func (c *Channel) Bell() *Doorbell { return c.txBell }

// RXBell returns the doorbell this side waits on for incoming RX data.
func (c *Channel) RXBell() *Doorbell { return c.rxBell }

// NotifyOnWrite installs an event observer on the TX ring that rings the
// peer's doorbell after every successful non-empty write or advance. The
// rings stay notification-agnostic; this is the only coupling point.
// Additional observers (metrics, tracing) run first on every event, so they
// compose with the doorbell instead of replacing it.
func (c *Channel) NotifyOnWrite(observers ...ringbuf.EventFunc) {
	bell := c.txBell
	c.tx.SetEventFunc(func(b *ringbuf.Buf, evt ringbuf.Event, n int) {
		for _, fn := range observers {
			fn(b, evt, n)
		}
		if evt == ringbuf.EventWrite && n > 0 {
			bell.Ring()
		}
	})
}

// WaitReadable blocks until the RX ring has data, the context is done, or
// doorbells are unsupported. It rechecks occupancy around the wait, so a
// doorbell rung between the check and the wait is never lost. Returns the
// number of readable bytes.
func (c *Channel) WaitReadable(ctx context.Context) (int, error) {
	for {
		seq := c.rxBell.Seq()
		if n := c.rx.Used(); n > 0 {
			return n, nil
		}
		if err := c.rxBell.Wait(ctx, seq); err != nil {
			return c.rx.Used(), err
		}
	}
}

// Doorbell is a cross-process wakeup primitive backed by a 32-bit word in
// the segment header. Ring increments the word and wakes waiters; Wait
// sleeps until the word moves past a previously observed sequence. It
// carries no data; occupancy is always re-read from the ring after a wake.
type Doorbell struct {
	word *uint32
}

// Seq returns the current doorbell sequence. Snapshot it before checking
// ring occupancy and pass it to Wait, so a ring between the check and the
// wait is detected.
func (d *Doorbell) Seq() uint32 {
	return atomic.LoadUint32(d.word)
}

// Ring increments the doorbell and wakes at most one waiter. Best-effort:
// wake failures are ignored, since waiters also time out and re-check.
func (d *Doorbell) Ring() {
	atomic.AddUint32(d.word, 1)
	futexWake(d.word, 1)
}

// Wait blocks until the doorbell sequence differs from seq or ctx is done.
// A nil return may be spurious; callers re-check ring occupancy. Returns
// ErrDoorbellUnsupported on platforms without futex support.
func (d *Doorbell) Wait(ctx context.Context, seq uint32) error {
	for {
		if atomic.LoadUint32(d.word) != seq {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// Wait in bounded slices so cancellation without a deadline is
		// still observed.
		timeout := 100 * time.Millisecond
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
			if timeout <= 0 {
				return context.DeadlineExceeded
			}
		}

		err := futexWaitTimeout(d.word, seq, timeout.Nanoseconds())
		switch err {
		case nil:
			// Woken, or the value changed before the syscall. Either way
			// the caller re-checks; spurious wakes are allowed.
			return nil
		case errFutexTimeout:
			// Re-check sequence and context, then wait again.
		default:
			return err
		}
	}
}
