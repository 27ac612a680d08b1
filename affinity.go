// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"math/bits"
)

// affinity rotates new streams of one binding across its eligible shards.
type affinity struct {
	mask      uint64
	nextIndex int
}

func newAffinity(local int, mask uint64) *affinity {
	next := bits.TrailingZeros64(mask)
	if mask&(1<<uint(local)) != 0 {
		next = local
	}
	return &affinity{mask: mask, nextIndex: next}
}

// advance moves nextIndex to the next set bit above it, wrapping.
func (a *affinity) advance() {
	above := a.mask &^ (uint64(1)<<uint(a.nextIndex+1) - 1)
	if a.nextIndex >= 63 {
		above = 0
	}
	if above != 0 {
		a.nextIndex = bits.TrailingZeros64(above)
	} else {
		a.nextIndex = bits.TrailingZeros64(a.mask)
	}
}

func (w *Worker) supplyAffinity(bindingID uint64) *affinity {
	a := w.affinities[bindingID]
	if a == nil {
		mask := w.opts.affinityMask(bindingID) & w.workersMask
		if mask == 0 {
			panic(fmt.Sprintf("affinity mask must specify at least one bit: %s %d", w.labels.Name(bindingID), mask))
		}
		a = newAffinity(w.index, mask)
		w.affinities[bindingID] = a
	}
	return a
}

// resolveRemoteIndex picks the shard for the next stream routed to
// bindingID. The local shard, when eligible, is always chosen.
func (w *Worker) resolveRemoteIndex(bindingID uint64) int {
	a := w.supplyAffinity(bindingID)
	index := a.nextIndex
	if index != w.index {
		a.advance()
	}
	return index
}
