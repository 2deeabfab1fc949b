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
	"bytes"
	"math/rand"
	"testing"
)

// TestAccountingInvariant drives random operation sequences and checks
// after every step that Available+Used == Capacity-1, that indices stay in
// range, and that drained data matches what was written.
func TestAccountingInvariant(t *testing.T) {
	for seed := int64(0); seed < 8; seed++ {
		rng := rand.New(rand.NewSource(seed))
		capacity := 8 + rng.Intn(120)
		b, err := New(make([]byte, capacity))
		if err != nil {
			t.Fatalf("New: %v", err)
		}

		var model bytes.Buffer // what the ring should currently hold
		var next byte          // rolling payload generator

		for step := 0; step < 5000; step++ {
			switch rng.Intn(5) {
			case 0: // write
				p := make([]byte, 1+rng.Intn(capacity))
				for i := range p {
					p[i] = next
					next++
				}
				n := b.Write(p)
				model.Write(p[:n])
				next = p[0] + byte(n) // unwritten bytes are regenerated later
				if n < len(p) && b.Available() != 0 {
					t.Fatalf("seed %d step %d: short write with %d free", seed, step, b.Available())
				}
			case 1: // read
				p := make([]byte, 1+rng.Intn(capacity))
				n := b.Read(p)
				want := model.Next(n)
				if !bytes.Equal(p[:n], want) {
					t.Fatalf("seed %d step %d: read %q, want %q", seed, step, p[:n], want)
				}
			case 2: // peek, must not disturb anything
				p := make([]byte, 1+rng.Intn(capacity))
				skip := rng.Intn(capacity)
				n := b.Peek(skip, p)
				if avail := model.Len() - skip; avail > 0 {
					wantN := min(len(p), avail)
					if n != wantN {
						t.Fatalf("seed %d step %d: peek %d, want %d", seed, step, n, wantN)
					}
					if !bytes.Equal(p[:n], model.Bytes()[skip:skip+n]) {
						t.Fatalf("seed %d step %d: peek data mismatch", seed, step)
					}
				} else if n != 0 {
					t.Fatalf("seed %d step %d: peek past occupancy returned %d", seed, step, n)
				}
			case 3: // skip
				n := b.Skip(1 + rng.Intn(capacity))
				model.Next(n)
			case 4: // occasional reset
				if rng.Intn(50) == 0 {
					b.Reset()
					model.Reset()
				}
			}

			if used, free := b.Used(), b.Available(); used+free != capacity-1 {
				t.Fatalf("seed %d step %d: used %d + free %d != %d", seed, step, used, free, capacity-1)
			}
			if b.Used() != model.Len() {
				t.Fatalf("seed %d step %d: occupancy %d, model %d", seed, step, b.Used(), model.Len())
			}
			st := b.State()
			if st.WriteIndex < 0 || st.WriteIndex >= capacity || st.ReadIndex < 0 || st.ReadIndex >= capacity {
				t.Fatalf("seed %d step %d: index out of range: %+v", seed, step, st)
			}
		}
	}
}

// TestLinearLengthsConsistent checks the linear block lengths against the
// accounting over random states.
func TestLinearLengthsConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const capacity = 64
	b, err := New(make([]byte, capacity))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for step := 0; step < 2000; step++ {
		if rng.Intn(2) == 0 {
			b.Write(make([]byte, 1+rng.Intn(capacity)))
		} else {
			b.Read(make([]byte, 1+rng.Intn(capacity)))
		}

		lr := b.LinearReadLength()
		lw := b.LinearWriteLength()
		if lr > b.Used() {
			t.Fatalf("step %d: linear read %d exceeds occupancy %d", step, lr, b.Used())
		}
		if lw > b.Available() {
			t.Fatalf("step %d: linear write %d exceeds free %d", step, lw, b.Available())
		}
		if b.Used() > 0 && lr == 0 {
			t.Fatalf("step %d: occupancy %d but empty linear read block", step, b.Used())
		}
		if b.Available() > 0 && lw == 0 {
			t.Fatalf("step %d: free %d but empty linear write block", step, b.Available())
		}
	}
}
