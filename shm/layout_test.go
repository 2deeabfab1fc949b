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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreipc/shmring/ringbuf"
)

func TestSegmentHeaderLayout(t *testing.T) {
	// The header is shared across processes; its size is part of the
	// format.
	require.Equal(t, uintptr(SegmentHeaderSize), unsafe.Sizeof(segmentHeader{}))
}

func TestCalculateLayout(t *testing.T) {
	total, abOff, abLen, baOff, baLen, err := CalculateLayout(4096, 8192)
	require.NoError(t, err)

	assert.Equal(t, uint64(SegmentHeaderSize), abOff, "first ring follows the header")
	assert.Equal(t, uint64(ringbuf.HeaderSize+4096), abLen)
	assert.Equal(t, uint64(ringbuf.HeaderSize+8192), baLen)

	// Regions are disjoint, 64-byte aligned and inside the segment.
	assert.Zero(t, abOff%64)
	assert.Zero(t, baOff%64)
	assert.GreaterOrEqual(t, baOff, abOff+abLen)
	assert.GreaterOrEqual(t, total, baOff+baLen)
}

func TestCalculateLayoutOddSizes(t *testing.T) {
	// Capacities need not be powers of two; alignment comes from padding
	// between regions.
	total, abOff, abLen, baOff, baLen, err := CalculateLayout(100, 77)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, baOff, abOff+abLen)
	assert.GreaterOrEqual(t, total, baOff+baLen)
	assert.Zero(t, total%64)
}

func TestCalculateLayoutRejectsTinyRings(t *testing.T) {
	_, _, _, _, _, err := CalculateLayout(MinRingSize-1, MinRingSize)
	require.Error(t, err)
	_, _, _, _, _, err = CalculateLayout(MinRingSize, 0)
	require.Error(t, err)
}

func TestValidateHeader(t *testing.T) {
	total, abOff, abLen, baOff, baLen, err := CalculateLayout(4096, 4096)
	require.NoError(t, err)

	fresh := func() *segmentHeader {
		h := &segmentHeader{}
		h.setMagic()
		h.setVersion(SegmentVersion)
		h.setTotalSize(total)
		h.abOff, h.abLen = abOff, abLen
		h.baOff, h.baLen = baOff, baLen
		return h
	}

	require.NoError(t, validateHeader(fresh(), total))

	h := fresh()
	h.magic[0] = 'X'
	assert.Error(t, validateHeader(h, total), "foreign magic")

	h = fresh()
	h.setVersion(SegmentVersion + 1)
	assert.Error(t, validateHeader(h, total), "version skew")

	h = fresh()
	assert.Error(t, validateHeader(h, total-64), "truncated mapping")

	h = fresh()
	h.baLen = total // runs past the end
	assert.Error(t, validateHeader(h, total), "region out of bounds")

	h = fresh()
	h.abLen = uint64(ringbuf.HeaderSize)
	assert.Error(t, validateHeader(h, total), "region smaller than a ring header")
}
