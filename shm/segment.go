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
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"github.com/coreipc/shmring/ringbuf"
)

// Memory layout constants.
const (
	// SegmentMagic identifies a shmring segment file.
	SegmentMagic = "SHMRING\x00"

	// SegmentVersion is the current header layout version.
	SegmentVersion = uint32(1)

	// SegmentHeaderSize is the aligned size of the segment header.
	SegmentHeaderSize = 128

	// MinRingSize is the smallest accepted payload capacity per direction.
	MinRingSize = 64

	// DefaultRingSize is the payload capacity used when a caller passes 0.
	DefaultRingSize = 64 * 1024
)

// Platform-specific hooks, set by init in the platform files.
var unmapMemory func([]byte) error

// segmentHeader is the fixed-layout header at offset 0 of the mapped file.
// Mutable fields are accessed only through sync/atomic.
type segmentHeader struct {
	magic     [8]byte  // 0x00: "SHMRING\0"
	version   uint32   // 0x08: layout version
	flags     uint32   // 0x0C: reserved
	totalSize uint64   // 0x10: total segment size in bytes
	abOff     uint64   // 0x18: offset of the host->peer ring region
	abLen     uint64   // 0x20: length of the host->peer ring region
	baOff     uint64   // 0x28: offset of the peer->host ring region
	baLen     uint64   // 0x30: length of the peer->host ring region
	hostPID   uint32   // 0x38: creating process
	peerPID   uint32   // 0x3C: attaching process
	hostReady uint32   // 0x40: host mapped flag
	peerReady uint32   // 0x44: peer mapped flag
	bellAB    uint32   // 0x48: doorbell for data in the host->peer ring
	bellBA    uint32   // 0x4C: doorbell for data in the peer->host ring
	reserved  [48]byte // 0x50-0x7F: padding to 128 bytes
}

func (h *segmentHeader) setMagic() {
	copy(h.magic[:], SegmentMagic)
}

func (h *segmentHeader) magicOK() bool {
	return string(h.magic[:]) == SegmentMagic
}

func (h *segmentHeader) Version() uint32        { return atomic.LoadUint32(&h.version) }
func (h *segmentHeader) setVersion(v uint32)    { atomic.StoreUint32(&h.version, v) }
func (h *segmentHeader) TotalSize() uint64      { return atomic.LoadUint64(&h.totalSize) }
func (h *segmentHeader) setTotalSize(n uint64)  { atomic.StoreUint64(&h.totalSize, n) }
func (h *segmentHeader) HostPID() uint32        { return atomic.LoadUint32(&h.hostPID) }
func (h *segmentHeader) setHostPID(pid uint32)  { atomic.StoreUint32(&h.hostPID, pid) }
func (h *segmentHeader) PeerPID() uint32        { return atomic.LoadUint32(&h.peerPID) }
func (h *segmentHeader) setPeerPID(pid uint32)  { atomic.StoreUint32(&h.peerPID, pid) }
func (h *segmentHeader) HostReady() bool        { return atomic.LoadUint32(&h.hostReady) != 0 }
func (h *segmentHeader) setHostReady()          { atomic.StoreUint32(&h.hostReady, 1) }
func (h *segmentHeader) PeerReady() bool        { return atomic.LoadUint32(&h.peerReady) != 0 }
func (h *segmentHeader) setPeerReady()          { atomic.StoreUint32(&h.peerReady, 1) }

// CalculateLayout computes the segment layout for the two requested payload
// capacities. Each ring region holds a ringbuf header plus its payload and
// starts on a 64-byte boundary.
func CalculateLayout(sizeAB, sizeBA int) (totalSize, abOff, abLen, baOff, baLen uint64, err error) {
	if sizeAB < MinRingSize {
		return 0, 0, 0, 0, 0, fmt.Errorf("shm: host->peer ring size %d below minimum %d", sizeAB, MinRingSize)
	}
	if sizeBA < MinRingSize {
		return 0, 0, 0, 0, 0, fmt.Errorf("shm: peer->host ring size %d below minimum %d", sizeBA, MinRingSize)
	}

	abLen = uint64(ringbuf.HeaderSize + sizeAB)
	baLen = uint64(ringbuf.HeaderSize + sizeBA)
	abOff = alignTo64(SegmentHeaderSize)
	baOff = alignTo64(abOff + abLen)
	totalSize = alignTo64(baOff + baLen)
	return totalSize, abOff, abLen, baOff, baLen, nil
}

func alignTo64(n uint64) uint64 {
	return (n + 63) &^ 63
}

// validateHeader checks a mapped segment header for consistency before any
// ring is attached. It defends against truncated files, foreign files and
// version skew, not against payload corruption.
func validateHeader(h *segmentHeader, mappedSize uint64) error {
	if !h.magicOK() {
		return fmt.Errorf("shm: invalid segment magic")
	}
	if v := h.Version(); v != SegmentVersion {
		return fmt.Errorf("shm: unsupported segment version %d, expected %d", v, SegmentVersion)
	}
	if h.TotalSize() != mappedSize {
		return fmt.Errorf("shm: header total size %d does not match mapped size %d", h.TotalSize(), mappedSize)
	}

	abOff := atomic.LoadUint64(&h.abOff)
	abLen := atomic.LoadUint64(&h.abLen)
	baOff := atomic.LoadUint64(&h.baOff)
	baLen := atomic.LoadUint64(&h.baLen)

	if abOff < SegmentHeaderSize || abOff+abLen > baOff || baOff+baLen > mappedSize {
		return fmt.Errorf("shm: ring regions out of bounds (ab=%d+%d ba=%d+%d total=%d)",
			abOff, abLen, baOff, baLen, mappedSize)
	}
	if abLen <= uint64(ringbuf.HeaderSize) || baLen <= uint64(ringbuf.HeaderSize) {
		return fmt.Errorf("shm: ring region too small (ab=%d ba=%d)", abLen, baLen)
	}
	return nil
}

// Segment is a mapped shared memory segment holding one duplex ring pair.
type Segment struct {
	file *os.File
	mem  []byte
	path string

	hdr *segmentHeader
	ab  *ringbuf.Buf // host->peer
	ba  *ringbuf.Buf // peer->host
}

// Path returns the backing file path.
func (s *Segment) Path() string { return s.path }

// Host returns the channel view for the creating side: TX carries bytes to
// the peer, RX carries bytes from it. Exactly one process may act as host.
func (s *Segment) Host() *Channel {
	return &Channel{
		tx:     s.ab,
		rx:     s.ba,
		txBell: &Doorbell{word: &s.hdr.bellAB},
		rxBell: &Doorbell{word: &s.hdr.bellBA},
	}
}

// Peer returns the channel view for the attaching side, with the two rings
// crossed relative to Host.
func (s *Segment) Peer() *Channel {
	return &Channel{
		tx:     s.ba,
		rx:     s.ab,
		txBell: &Doorbell{word: &s.hdr.bellBA},
		rxBell: &Doorbell{word: &s.hdr.bellAB},
	}
}

// PeerReady reports whether the peer process has mapped the segment.
func (s *Segment) PeerReady() bool { return s.hdr.PeerReady() }

// State returns diagnostic snapshots of both rings.
func (s *Segment) State() (hostToPeer, peerToHost ringbuf.State) {
	return s.ab.State(), s.ba.State()
}

// Close unmaps the segment and closes the backing file. The file itself is
// left in place for the peer; use Remove to delete it.
func (s *Segment) Close() error {
	var firstErr error

	if s.mem != nil {
		if err := unmapMemory(s.mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.mem = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}
	return firstErr
}

// segmentPath generates the backing file path for a segment name.
func segmentPath(name string) string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", "shmring_"+name)
	}
	return filepath.Join(os.TempDir(), "shmring_"+name)
}

// Remove deletes the backing file of a segment.
func Remove(name string) error {
	paths := []string{
		filepath.Join("/dev/shm", "shmring_"+name),
		filepath.Join(os.TempDir(), "shmring_"+name),
	}

	var lastErr error
	for _, path := range paths {
		if err := os.Remove(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return os.ErrNotExist
}

// Exists reports whether a segment file with the given name is present.
func Exists(name string) bool {
	paths := []string{
		filepath.Join("/dev/shm", "shmring_"+name),
		filepath.Join(os.TempDir(), "shmring_"+name),
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// headerView casts the start of the mapped region to the segment header.
func headerView(mem []byte) *segmentHeader {
	return (*segmentHeader)(unsafe.Pointer(&mem[0]))
}
