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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSegment creates a uniquely named segment and tears it down with
// the test.
func newTestSegment(t *testing.T, sizeAB, sizeBA int) (*Segment, string) {
	t.Helper()
	name := fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
	Remove(name)
	seg, err := Create(name, sizeAB, sizeBA)
	require.NoError(t, err)
	t.Cleanup(func() {
		seg.Close()
		Remove(name)
	})
	return seg, name
}

func TestCreateOpenRoundTrip(t *testing.T) {
	seg, name := newTestSegment(t, 4096, 4096)
	require.True(t, Exists(name))

	// Second mapping of the same file, as the peer process would see it.
	peerSeg, err := Open(name)
	require.NoError(t, err)
	defer peerSeg.Close()
	require.True(t, seg.PeerReady())

	host := seg.Host()
	peer := peerSeg.Peer()

	// Host->peer direction.
	msg := []byte("ping over shared memory")
	require.Equal(t, len(msg), host.TX().Write(msg))
	out := make([]byte, len(msg))
	require.Equal(t, len(msg), peer.RX().Read(out))
	assert.Equal(t, msg, out)

	// Peer->host direction.
	reply := []byte("pong")
	require.Equal(t, len(reply), peer.TX().Write(reply))
	out = make([]byte, len(reply))
	require.Equal(t, len(reply), host.RX().Read(out))
	assert.Equal(t, reply, out)
}

func TestCreateDefaultsAndExclusive(t *testing.T) {
	seg, name := newTestSegment(t, 0, 0)

	// Zero sizes select the default capacity.
	assert.Equal(t, DefaultRingSize, seg.Host().TX().Capacity())

	// A second create on the same name must fail, not clobber.
	_, err := Create(name, 4096, 4096)
	require.Error(t, err)
}

func TestOpenMissingSegment(t *testing.T) {
	_, err := Open(fmt.Sprintf("missing-%d", time.Now().UnixNano()))
	require.Error(t, err)
}

func TestOpenRejectsCorruptHeader(t *testing.T) {
	seg, name := newTestSegment(t, 4096, 4096)
	path := seg.Path()

	// Flip a magic byte directly in the backing file.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{'X'}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(name)
	require.Error(t, err)
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	name := fmt.Sprintf("trunc-%d", time.Now().UnixNano())
	path := segmentPath(name)
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0600))
	t.Cleanup(func() { Remove(name) })

	_, err := Open(name)
	require.Error(t, err)
}

func TestRemoveAndExists(t *testing.T) {
	name := fmt.Sprintf("rm-%d", time.Now().UnixNano())
	require.False(t, Exists(name))

	seg, err := Create(name, 4096, 4096)
	require.NoError(t, err)
	require.True(t, Exists(name))

	require.NoError(t, seg.Close())
	require.NoError(t, Remove(name))
	require.False(t, Exists(name))
	require.ErrorIs(t, Remove(name), os.ErrNotExist)
}

func TestSegmentState(t *testing.T) {
	seg, _ := newTestSegment(t, 4096, 4096)
	host := seg.Host()

	host.TX().Write(make([]byte, 100))
	ab, ba := seg.State()
	assert.Equal(t, 100, ab.Used)
	assert.Equal(t, 0, ba.Used)
	assert.Equal(t, 4096, ab.Capacity)
}

func TestSegmentCloseIdempotent(t *testing.T) {
	seg, _ := newTestSegment(t, 4096, 4096)
	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close())
}
