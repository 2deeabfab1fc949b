//go:build unix

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
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/coreipc/shmring/ringbuf"
)

func init() {
	unmapMemory = unix.Munmap
}

// Create creates and maps a new segment with the given payload capacities
// (bytes per direction; 0 selects DefaultRingSize), formats both ring
// regions and marks the host side ready. The file is created exclusively,
// so racing creators fail instead of clobbering each other.
func Create(name string, sizeAB, sizeBA int) (*Segment, error) {
	if sizeAB == 0 {
		sizeAB = DefaultRingSize
	}
	if sizeBA == 0 {
		sizeBA = DefaultRingSize
	}

	totalSize, abOff, abLen, baOff, baLen, err := CalculateLayout(sizeAB, sizeBA)
	if err != nil {
		return nil, err
	}

	path := segmentPath(name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("shm: create segment file %s: %w", path, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("shm: resize segment file: %w", err)
	}

	mem, err := mmapFile(file, int(totalSize))
	if err != nil {
		cleanup()
		return nil, err
	}

	ab, err := ringbuf.Format(mem[abOff : abOff+abLen])
	if err != nil {
		unix.Munmap(mem)
		cleanup()
		return nil, fmt.Errorf("shm: format host->peer ring: %w", err)
	}
	ba, err := ringbuf.Format(mem[baOff : baOff+baLen])
	if err != nil {
		unix.Munmap(mem)
		cleanup()
		return nil, fmt.Errorf("shm: format peer->host ring: %w", err)
	}

	hdr := headerView(mem)
	hdr.setVersion(SegmentVersion)
	hdr.setTotalSize(totalSize)
	atomic.StoreUint64(&hdr.abOff, abOff)
	atomic.StoreUint64(&hdr.abLen, abLen)
	atomic.StoreUint64(&hdr.baOff, baOff)
	atomic.StoreUint64(&hdr.baLen, baLen)
	hdr.setHostPID(uint32(os.Getpid()))
	hdr.setHostReady()
	// Magic last: an Open racing with Create must not validate a
	// half-initialized header.
	hdr.setMagic()

	return &Segment{file: file, mem: mem, path: path, hdr: hdr, ab: ab, ba: ba}, nil
}

// Open maps an existing segment, validates its header and attaches both
// rings, then marks the peer side ready.
func Open(name string) (*Segment, error) {
	path := segmentPath(name)
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: stat segment file: %w", err)
	}
	size := info.Size()
	if size < SegmentHeaderSize {
		file.Close()
		return nil, fmt.Errorf("shm: segment file too small: %d bytes", size)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, err
	}

	hdr := headerView(mem)
	if err := validateHeader(hdr, uint64(size)); err != nil {
		unix.Munmap(mem)
		file.Close()
		return nil, err
	}

	abOff := atomic.LoadUint64(&hdr.abOff)
	abLen := atomic.LoadUint64(&hdr.abLen)
	baOff := atomic.LoadUint64(&hdr.baOff)
	baLen := atomic.LoadUint64(&hdr.baLen)

	ab, err := ringbuf.Attach(mem[abOff : abOff+abLen])
	if err != nil {
		unix.Munmap(mem)
		file.Close()
		return nil, fmt.Errorf("shm: attach host->peer ring: %w", err)
	}
	ba, err := ringbuf.Attach(mem[baOff : baOff+baLen])
	if err != nil {
		unix.Munmap(mem)
		file.Close()
		return nil, fmt.Errorf("shm: attach peer->host ring: %w", err)
	}

	hdr.setPeerPID(uint32(os.Getpid()))
	hdr.setPeerReady()

	return &Segment{file: file, mem: mem, path: path, hdr: hdr, ab: ab, ba: ba}, nil
}

func mmapFile(file *os.File, size int) ([]byte, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap failed: %w", err)
	}
	return mem, nil
}
