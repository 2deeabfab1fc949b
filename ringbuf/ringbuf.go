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

package ringbuf

import (
	"errors"
	"sync/atomic"
)

// ErrNoStorage indicates that a handle was constructed without a usable
// storage region.
var ErrNoStorage = errors.New("ringbuf: storage must not be empty")

// Validity stamps written into the handle header. The second stamp is the
// bitwise complement of the first so that an all-zero or all-ones region
// never passes as initialized.
const (
	magicStamp = uint32(0x52494E47) // "RING"
	magicCheck = ^magicStamp
)

// header is the bookkeeping block of a handle. For in-process handles it
// lives in the Go heap; Format and Attach overlay it on the first HeaderSize
// bytes of a shared region, so its layout is fixed and its mutable fields
// are accessed only through sync/atomic.
type header struct {
	magic1 uint32
	magic2 uint32
	size   uint64 // payload capacity in bytes, fixed after init
	w      uint64 // write index in [0, size), owned by the producer
	r      uint64 // read index in [0, size), owned by the consumer
}

// Event identifies the operation that an EventFunc is reporting.
type Event uint8

const (
	// EventWrite is fired after a successful non-empty Write or Advance.
	EventWrite Event = iota
	// EventRead is fired after a successful non-empty Read or Skip.
	EventRead
	// EventReset is fired by Reset with a length of 0.
	EventReset
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventWrite:
		return "write"
	case EventRead:
		return "read"
	case EventReset:
		return "reset"
	}
	return "unknown"
}

// EventFunc observes buffer operations. It is invoked synchronously on the
// execution context of the triggering call, after the indices have been
// updated. It must not block and must not re-enter the same handle.
type EventFunc func(b *Buf, evt Event, n int)

// Option configures a handle at construction time.
type Option func(*Buf)

// WithEventFunc installs fn as the handle's event observer.
func WithEventFunc(fn EventFunc) Option {
	return func(b *Buf) { b.evt = fn }
}

// Buf is an SPSC circular byte buffer handle. One byte of the bound storage
// is permanently kept empty to distinguish the empty state (equal indices)
// from the full state, so the usable payload capacity is Capacity()-1.
//
// The zero value is not ready; every operation on it returns 0. The event
// observer is part of the local handle, not of the shared header, so each
// side of a shared region attaches its own.
type Buf struct {
	hdr  *header
	data []byte
	evt  EventFunc
}

// New binds storage as the payload region of a fresh handle and zeroes both
// indices. The handle does not take ownership of storage and never grows or
// shrinks it. Returns ErrNoStorage when storage is empty.
func New(storage []byte, opts ...Option) (*Buf, error) {
	if len(storage) == 0 {
		return nil, ErrNoStorage
	}
	b := &Buf{
		hdr: &header{
			magic1: magicStamp,
			magic2: magicCheck,
			size:   uint64(len(storage)),
		},
		data: storage,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// IsReady reports whether the handle carries a bound storage region with a
// correctly stamped header. Every operation checks this first, so calls on
// freed, zero-value or garbage handles degrade to zero results instead of
// faulting.
func (b *Buf) IsReady() bool {
	return b != nil && b.hdr != nil && b.data != nil &&
		b.hdr.size > 0 &&
		b.hdr.magic1 == magicStamp && b.hdr.magic2 == magicCheck
}

// Free clears the storage binding. The storage itself is owned by the
// caller and is not touched. Idempotent; a no-op on an unbound handle.
func (b *Buf) Free() {
	if b.IsReady() {
		b.data = nil
	}
}

// SetEventFunc replaces the handle's event observer. A nil fn removes it.
func (b *Buf) SetEventFunc(fn EventFunc) {
	if b != nil {
		b.evt = fn
	}
}

// Capacity returns the total size of the bound storage in bytes. The usable
// payload capacity is one byte less.
func (b *Buf) Capacity() int {
	if !b.IsReady() {
		return 0
	}
	return int(b.hdr.size)
}

func (b *Buf) writeIndex() uint64     { return atomic.LoadUint64(&b.hdr.w) }
func (b *Buf) readIndex() uint64      { return atomic.LoadUint64(&b.hdr.r) }
func (b *Buf) setWriteIndex(w uint64) { atomic.StoreUint64(&b.hdr.w, w) }
func (b *Buf) setReadIndex(r uint64)  { atomic.StoreUint64(&b.hdr.r, r) }

func (b *Buf) notify(evt Event, n int) {
	if b.evt != nil {
		b.evt(b, evt, n)
	}
}

// Available returns the number of bytes that can be written before the
// buffer is full. Computed from a single snapshot of both indices with a
// three-way comparison; no modular arithmetic, so it cannot underflow.
func (b *Buf) Available() int {
	if !b.IsReady() {
		return 0
	}
	w := b.writeIndex()
	r := b.readIndex()
	size := b.hdr.size

	var free uint64
	switch {
	case w == r:
		free = size
	case r > w:
		free = r - w
	default:
		free = size - (w - r)
	}
	// One byte is reserved to disambiguate empty from full.
	return int(free - 1)
}

// Used returns the number of bytes currently buffered and readable.
func (b *Buf) Used() int {
	if !b.IsReady() {
		return 0
	}
	w := b.writeIndex()
	r := b.readIndex()
	size := b.hdr.size

	switch {
	case w == r:
		return 0
	case w > r:
		return int(w - r)
	default:
		return int(size - (r - w))
	}
}

// Write copies up to len(p) bytes from p into the buffer and returns the
// number of bytes copied. The count is clamped to the free space at call
// time; a short (possibly zero) return means the buffer is full and the
// caller should retry later. Only the producer side may call Write.
func (b *Buf) Write(p []byte) int {
	if !b.IsReady() || len(p) == 0 {
		return 0
	}

	btw := len(p)
	if free := b.Available(); btw > free {
		btw = free
	}
	if btw == 0 {
		return 0
	}

	size := int(b.hdr.size)
	w := int(b.writeIndex())

	// Linear part up to the physical end of storage.
	tocopy := size - w
	if tocopy > btw {
		tocopy = btw
	}
	copy(b.data[w:], p[:tocopy])
	w += tocopy

	// Overflow part at the beginning of storage.
	if rem := btw - tocopy; rem > 0 {
		copy(b.data, p[tocopy:btw])
		w = rem
	}
	if w >= size {
		w = 0
	}

	// The index store publishes the bytes; it must come after the copies.
	b.setWriteIndex(uint64(w))
	b.notify(EventWrite, btw)
	return btw
}

// Read copies up to len(p) buffered bytes into p and returns the number of
// bytes copied, clamped to the occupancy at call time. Only the consumer
// side may call Read.
func (b *Buf) Read(p []byte) int {
	if !b.IsReady() || len(p) == 0 {
		return 0
	}

	btr := len(p)
	if full := b.Used(); btr > full {
		btr = full
	}
	if btr == 0 {
		return 0
	}

	size := int(b.hdr.size)
	r := int(b.readIndex())

	tocopy := size - r
	if tocopy > btr {
		tocopy = btr
	}
	copy(p[:tocopy], b.data[r:])
	r += tocopy

	if rem := btr - tocopy; rem > 0 {
		copy(p[tocopy:btr], b.data)
		r = rem
	}
	if r >= size {
		r = 0
	}

	b.setReadIndex(uint64(r))
	b.notify(EventRead, btr)
	return btr
}

// Peek copies up to len(p) buffered bytes into p, starting skip bytes past
// the current read position, without consuming them. The read index is not
// moved and no event fires. Returns 0 when fewer than skip+1 bytes are
// buffered.
func (b *Buf) Peek(skip int, p []byte) int {
	if !b.IsReady() || len(p) == 0 || skip < 0 {
		return 0
	}

	full := b.Used()
	if skip >= full {
		return 0
	}
	full -= skip

	size := int(b.hdr.size)
	r := int(b.readIndex()) + skip
	if r >= size {
		r -= size
	}

	btp := len(p)
	if btp > full {
		btp = full
	}

	tocopy := size - r
	if tocopy > btp {
		tocopy = btp
	}
	copy(p[:tocopy], b.data[r:])

	if rem := btp - tocopy; rem > 0 {
		copy(p[tocopy:btp], b.data)
	}
	return btp
}

// Skip advances the read index by up to n bytes without copying them,
// clamped to the current occupancy, and returns the number of bytes
// skipped. Used after an external consumer has drained the linear read
// block directly. Fires a read event for a non-zero skip.
func (b *Buf) Skip(n int) int {
	if !b.IsReady() || n <= 0 {
		return 0
	}

	if full := b.Used(); n > full {
		n = full
	}
	if n == 0 {
		return 0
	}

	r := b.readIndex() + uint64(n)
	if r >= b.hdr.size {
		r -= b.hdr.size
	}
	b.setReadIndex(r)
	b.notify(EventRead, n)
	return n
}

// Advance moves the write index forward by up to n bytes, clamped to the
// current free space, and returns the number of bytes advanced. Used when
// an external producer has already placed bytes into the linear write block
// and only the bookkeeping remains. Fires a write event for a non-zero
// advance.
func (b *Buf) Advance(n int) int {
	if !b.IsReady() || n <= 0 {
		return 0
	}

	if free := b.Available(); n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	w := b.writeIndex() + uint64(n)
	if w >= b.hdr.size {
		w -= b.hdr.size
	}
	b.setWriteIndex(w)
	b.notify(EventWrite, n)
	return n
}

// Reset zeroes both indices, discarding any buffered data without touching
// the storage binding. It is not safe to call while the peer side is
// actively reading or writing. Fires a reset event with a length of 0.
func (b *Buf) Reset() {
	if !b.IsReady() {
		return
	}
	b.setReadIndex(0)
	b.setWriteIndex(0)
	b.notify(EventReset, 0)
}

// LinearReadData returns the longest contiguous run of buffered bytes
// starting at the read index, as a subslice of the bound storage. The bytes
// are not consumed; pass the consumed length to Skip afterwards. Intended
// for zero-copy consumption, e.g. handing the block to a transmitting
// peripheral. Returns nil on an unbound handle.
func (b *Buf) LinearReadData() []byte {
	if !b.IsReady() {
		return nil
	}
	w := b.writeIndex()
	r := b.readIndex()
	size := b.hdr.size

	var n uint64
	switch {
	case w > r:
		n = w - r
	case r > w:
		n = size - r
	}
	return b.data[r : r+n]
}

// LinearReadLength returns the length of the block LinearReadData would
// return.
func (b *Buf) LinearReadLength() int {
	return len(b.LinearReadData())
}

// LinearWriteData returns the contiguous free region starting at the write
// index, as a subslice of the bound storage. Fill it (or let hardware fill
// it) and then call Advance with the produced length. The block is one byte
// shorter than the physical tail whenever filling it completely would make
// the buffer indistinguishable from empty. Returns nil on an unbound
// handle.
func (b *Buf) LinearWriteData() []byte {
	if !b.IsReady() {
		return nil
	}
	w := b.writeIndex()
	r := b.readIndex()
	size := b.hdr.size

	var n uint64
	if w >= r {
		n = size - w
		if r == 0 {
			// Writing the full tail with r at 0 would wrap w onto r.
			n--
		}
	} else {
		n = r - w - 1
	}
	return b.data[w : w+n]
}

// LinearWriteLength returns the length of the block LinearWriteData would
// return.
func (b *Buf) LinearWriteLength() int {
	return len(b.LinearWriteData())
}

// State is a snapshot of a handle's index accounting, for diagnostics.
type State struct {
	Capacity   int
	WriteIndex int
	ReadIndex  int
	Used       int
	Available  int
}

// State returns a diagnostic snapshot. The two indices are loaded
// independently, so the snapshot is only exact while the peer side is
// quiescent.
func (b *Buf) State() State {
	if !b.IsReady() {
		return State{}
	}
	return State{
		Capacity:   int(b.hdr.size),
		WriteIndex: int(b.writeIndex()),
		ReadIndex:  int(b.readIndex()),
		Used:       b.Used(),
		Available:  b.Available(),
	}
}
