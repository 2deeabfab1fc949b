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
	"fmt"
	"unsafe"
)

// HeaderSize is the number of bytes Format and Attach reserve at the start
// of a region for the handle header. The rest of the region is payload.
const HeaderSize = int(unsafe.Sizeof(header{}))

// Region construction errors.
var (
	ErrRegionTooSmall = errors.New("ringbuf: region must exceed HeaderSize")
	ErrMisaligned     = errors.New("ringbuf: region must be 8-byte aligned")
	ErrNotFormatted   = errors.New("ringbuf: region does not carry a valid header")
)

// regionHeader overlays the handle header on the first HeaderSize bytes of
// region. The caller has already validated length and alignment.
func regionHeader(region []byte) *header {
	return (*header)(unsafe.Pointer(&region[0]))
}

func checkRegion(region []byte) error {
	if len(region) <= HeaderSize {
		return ErrRegionTooSmall
	}
	if uintptr(unsafe.Pointer(&region[0]))%8 != 0 {
		return ErrMisaligned
	}
	return nil
}

// Format initializes region as a shared ring buffer and returns a handle
// bound to it. The handle header is placed in the region itself, so a peer
// execution context mapping the same memory can Attach to it; the payload
// capacity is len(region)-HeaderSize. The region must be 8-byte aligned and
// longer than HeaderSize.
//
// Format wins any race with a concurrent Attach on the same region: the
// validity stamps are written last, so Attach never observes a stamped
// header with garbage indices.
func Format(region []byte, opts ...Option) (*Buf, error) {
	if err := checkRegion(region); err != nil {
		return nil, err
	}

	hdr := regionHeader(region)
	hdr.magic1 = 0
	hdr.magic2 = 0
	hdr.size = uint64(len(region) - HeaderSize)
	hdr.w = 0
	hdr.r = 0
	// Stamp validity only once the rest of the header is in place.
	hdr.magic1 = magicStamp
	hdr.magic2 = magicCheck

	b := &Buf{hdr: hdr, data: region[HeaderSize:]}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Attach binds a handle to a region previously initialized with Format,
// typically from the peer execution context. It validates the stamped
// header before use: both magic values, the recorded capacity against the
// region length, and both indices against the capacity. Returns
// ErrNotFormatted (wrapped with the failing detail) on any mismatch, so an
// attach to zeroed or garbage memory fails instead of corrupting state.
func Attach(region []byte, opts ...Option) (*Buf, error) {
	if err := checkRegion(region); err != nil {
		return nil, err
	}

	hdr := regionHeader(region)
	if hdr.magic1 != magicStamp || hdr.magic2 != magicCheck {
		return nil, fmt.Errorf("%w: bad magic %#x/%#x", ErrNotFormatted, hdr.magic1, hdr.magic2)
	}
	if want := uint64(len(region) - HeaderSize); hdr.size != want {
		return nil, fmt.Errorf("%w: capacity %d does not match region payload %d", ErrNotFormatted, hdr.size, want)
	}
	if hdr.w >= hdr.size || hdr.r >= hdr.size {
		return nil, fmt.Errorf("%w: index out of range (w=%d r=%d size=%d)", ErrNotFormatted, hdr.w, hdr.r, hdr.size)
	}

	b := &Buf{hdr: hdr, data: region[HeaderSize:]}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}
