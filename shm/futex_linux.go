//go:build linux

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
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// errFutexTimeout is returned by futexWaitTimeout when the wait times out.
var errFutexTimeout = errors.New("shm: futex timeout")

// Futex op codes from the kernel uapi; x/sys exports only the syscall
// numbers. The doorbell words are shared across processes, so the private
// variants cannot be used here.
const (
	futexWaitOp = 0 // FUTEX_WAIT
	futexWakeOp = 1 // FUTEX_WAKE
)

// futexWaitTimeout waits until the value at addr differs from val or the
// timeout (nanoseconds) elapses. Re-checks the value before entering the
// syscall to close the lost-wake window between the caller's snapshot and
// the kernel's own check.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	ts := unix.NsecToTimespec(timeoutNs)
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWaitOp),
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0,
		0,
	)

	switch errno {
	case 0:
		return nil
	case unix.EAGAIN, unix.EINTR:
		// Value already changed, or interrupted by a signal. The caller
		// re-checks the condition either way.
		return nil
	case unix.ETIMEDOUT:
		return errFutexTimeout
	default:
		return fmt.Errorf("shm: futex wait failed: %w", errno)
	}
}

// futexWake wakes up to n waiters on addr. Returns the number woken.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWakeOp),
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("shm: futex wake failed: %w", errno)
	}
	return int(r1), nil
}
