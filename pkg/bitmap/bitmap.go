// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bitmap provides the implementation of bitmap.
package bitmap

import (
	"fmt"
	"math"
	"math/bits"
)

// MaxBitEntryLimit defines the upper limit on how many bit entries are supported by this Bitmap
// implementation.
const MaxBitEntryLimit uint32 = math.MaxInt32

// Bitmap implements an efficient fixed-size bitmap.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// size is the number of addressable bits.
	size uint32

	// bitBlock holds the bits. The type of bitBlock is uint64 which means
	// each number in bitBlock contains 64 entries.
	bitBlock []uint64
}

// New create a new empty Bitmap holding size bits.
func New(size uint32) Bitmap {
	if size > MaxBitEntryLimit {
		panic(fmt.Sprintf("requested bitmap size %d too large", size))
	}
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// Size returns the number of addressable bits in the bitmap.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// GetNumOnes return the the number of ones in the Bitmap.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}

// IsSet returns whether bit i is set.
func (b *Bitmap) IsSet(i uint32) bool {
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add add i to the Bitmap.
func (b *Bitmap) Add(i uint32) {
	b.checkBit(i)
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	newBlock := oldBlock | mask
	if oldBlock != newBlock {
		b.bitBlock[blockNum] = newBlock
		b.numOnes++
	}
}

// Remove i from the Bitmap.
func (b *Bitmap) Remove(i uint32) {
	b.checkBit(i)
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	newBlock := oldBlock &^ mask
	if oldBlock != newBlock {
		b.bitBlock[blockNum] = newBlock
		b.numOnes--
	}
}

// AddRange sets bits within range (begin and end). begin is inclusive and end is exclusive.
func (b *Bitmap) AddRange(begin, end uint32) {
	for i := begin; i < end; i++ {
		b.Add(i)
	}
}

// ClearRange clear bits within range (begin and end) for the Bitmap. begin is inclusive and end is exclusive.
func (b *Bitmap) ClearRange(begin, end uint32) {
	for i := begin; i < end; i++ {
		b.Remove(i)
	}
}

// CountRange returns the number of set bits within range (begin and end).
// begin is inclusive and end is exclusive.
func (b *Bitmap) CountRange(begin, end uint32) uint32 {
	n := uint32(0)
	for i := begin; i < end; {
		if i%64 == 0 && end-i >= 64 {
			n += uint32(bits.OnesCount64(b.bitBlock[i/64]))
			i += 64
			continue
		}
		if b.IsSet(i) {
			n++
		}
		i++
	}
	return n
}

// FirstZero returns the first unset bit from the range [start, ).
func (b *Bitmap) FirstZero(start uint32) (bit uint32, err error) {
	i, nbit := int(start/64), start%64
	n := len(b.bitBlock)
	if start >= b.size {
		return MaxBitEntryLimit, fmt.Errorf("given start of range exceeds bitmap size")
	}
	w := b.bitBlock[i] | ((1 << nbit) - 1)
	for {
		if w != ^uint64(0) {
			r := uint32(bits.TrailingZeros64(^w) + i*64)
			if r >= b.size {
				break
			}
			return r, nil
		}
		i++
		if i == n {
			break
		}
		w = b.bitBlock[i]
	}
	return MaxBitEntryLimit, fmt.Errorf("bitmap has no unset bits")
}

// FirstZeroRun returns the first bit of a run of count unset bits, starting
// at a multiple of align.
func (b *Bitmap) FirstZeroRun(count, align uint32) (bit uint32, err error) {
	if count == 0 || align == 0 {
		return MaxBitEntryLimit, fmt.Errorf("invalid run count %d align %d", count, align)
	}
	start := uint32(0)
	for {
		z, err := b.FirstZero(start)
		if err != nil {
			return MaxBitEntryLimit, err
		}
		if rem := z % align; rem != 0 {
			z += align - rem
		}
		if uint64(z)+uint64(count) > uint64(b.size) {
			return MaxBitEntryLimit, fmt.Errorf("bitmap has no run of %d unset bits", count)
		}
		if b.CountRange(z, z+count) == 0 {
			return z, nil
		}
		start = z + 1
	}
}

// ToSlice transform the Bitmap into slice. For example, a bitmap of [0, 1, 0, 1]
// will return the slice [1, 3].
func (b *Bitmap) ToSlice() []uint32 {
	bitmapSlice := make([]uint32, 0, b.numOnes)
	// base is the start number of a bitBlock
	base := 0
	for i := 0; i < len(b.bitBlock); i++ {
		bitBlock := b.bitBlock[i]
		// Iterate through all the numbers held by this bit block.
		for bitBlock != 0 {
			// Extract the lowest set 1 bit.
			j := bitBlock & -bitBlock
			bitmapSlice = append(bitmapSlice, uint32((base + int(bits.OnesCount64(j-1)))))
			bitBlock ^= j
		}
		base += 64
	}
	return bitmapSlice
}

func (b *Bitmap) checkBit(i uint32) {
	if i >= b.size {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", i, b.size))
	}
}
