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

// Package ringbuf implements a single-producer/single-consumer circular
// byte buffer over caller-supplied storage.
//
// The buffer never allocates or owns its storage. A handle is bound to a
// contiguous byte region at construction time and thereafter performs only
// index accounting and two-segment wraparound copies over that region. The
// two index fields are touched exclusively through atomic loads and stores,
// and an index is published only after the bytes behind it have been fully
// copied, so exactly one writer and one reader may operate on the same
// handle concurrently without locks.
//
// Handles come in two flavors. New binds a plain byte slice and keeps the
// bookkeeping header in the Go heap; this is the in-process form. Format and
// Attach overlay the header on the first HeaderSize bytes of the region
// itself, which lets two processes (or any two execution contexts mapping
// the same memory) share one handle: one side formats the region, the other
// attaches to it and validates the stamped magic values before use.
//
// All operations are total. Invalid arguments and unbound handles yield
// zero results, and a transfer that does not fit returns a short count;
// callers treat short counts as backpressure, not as errors.
package ringbuf
