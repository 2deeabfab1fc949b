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

// shmring-inspect dumps the state of a live segment, or probes the capacity
// accounting of a scratch one.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/coreipc/shmring/ringbuf"
	"github.com/coreipc/shmring/shm"
)

var (
	segmentName = flag.String("segment", "", "existing segment to inspect")
	probe       = flag.Bool("probe", false, "create a scratch segment and probe write clamping")
)

func main() {
	flag.Parse()

	switch {
	case *segmentName != "":
		inspect(*segmentName)
	case *probe:
		probeCapacity()
	default:
		log.Fatal("usage: shmring-inspect -segment <name> | -probe")
	}
}

func inspect(name string) {
	seg, err := shm.Open(name)
	if err != nil {
		log.Fatalf("open segment: %v", err)
	}
	defer seg.Close()

	fmt.Printf("segment: %s\n", seg.Path())
	fmt.Printf("peer ready: %v\n\n", seg.PeerReady())

	ab, ba := seg.State()
	printState("host->peer", ab)
	printState("peer->host", ba)
}

func printState(name string, st ringbuf.State) {
	fmt.Printf("%s: cap=%d w=%d r=%d used=%d free=%d\n",
		name, st.Capacity, st.WriteIndex, st.ReadIndex, st.Used, st.Available)
}

// probeCapacity verifies the capacity-1 accounting on a fresh segment: a
// ring of capacity N accepts exactly N-1 bytes before clamping to zero.
func probeCapacity() {
	const name = "inspect-probe"
	shm.Remove(name)
	seg, err := shm.Create(name, 4096, 4096)
	if err != nil {
		log.Fatalf("create segment: %v", err)
	}
	defer func() {
		seg.Close()
		shm.Remove(name)
	}()

	tx := seg.Host().TX()
	fmt.Printf("capacity: %d, usable: %d\n", tx.Capacity(), tx.Capacity()-1)

	chunk := make([]byte, 1000)
	total := 0
	for {
		n := tx.Write(chunk)
		total += n
		fmt.Printf("wrote %d (total %d, free %d)\n", n, total, tx.Available())
		if n < len(chunk) {
			break
		}
	}

	if total != tx.Capacity()-1 {
		fmt.Printf("UNEXPECTED: accepted %d bytes, want %d\n", total, tx.Capacity()-1)
		return
	}
	fmt.Println("accounting OK")
}
