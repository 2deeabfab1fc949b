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

// Package shm composes two ringbuf handles inside one memory-mapped segment
// into a full-duplex byte-stream channel between two processes.
//
// A segment is a file in /dev/shm (or the temporary directory when tmpfs is
// unavailable) carrying a validated header followed by two disjoint ring
// regions, one per transfer direction. The creating process formats both
// regions; the peer process maps the same file, validates the header and
// attaches. Each process then obtains a Channel view that crosses the two
// rings so that its TX is the peer's RX.
//
// The rings themselves never block and never notify across the process
// boundary. A pair of futex-backed doorbells in the segment header provides
// the optional side-channel wakeup: the producer rings after committing a
// write, the consumer waits when it finds its RX empty. Doorbell support is
// Linux-only; on other platforms the channel still works by polling
// occupancy.
package shm
