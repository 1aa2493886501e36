// Set of logical processor ids, sized like the kernel's cpu_set_t.

package coreaffinity_internal

import (
	"bytes"
	"fmt"
	"math/bits"
)

const (
	// Max logical processor id + 1 that can be represented:
	PROCESSOR_SET_SIZE = 1024

	processorSetWordBits = 64
	processorSetNumWords = PROCESSOR_SET_SIZE / processorSetWordBits
)

// The zero value is the empty set. Ids outside of [0, PROCESSOR_SET_SIZE) are
// silently ignored by Set/Clear and reported as not set by IsSet.
type ProcessorSet struct {
	words [processorSetNumWords]uint64
}

func NewProcessorSet(ids ...int) *ProcessorSet {
	set := &ProcessorSet{}
	for _, id := range ids {
		set.Set(id)
	}
	return set
}

// Build the set {0, 1, ..., n-1}:
func NewProcessorSetRange(n int) *ProcessorSet {
	set := &ProcessorSet{}
	for id := 0; id < n; id++ {
		set.Set(id)
	}
	return set
}

func processorSetIndex(id int) (int, uint64, bool) {
	if id < 0 || id >= PROCESSOR_SET_SIZE {
		return 0, 0, false
	}
	return id / processorSetWordBits, uint64(1) << (uint(id) % processorSetWordBits), true
}

func (set *ProcessorSet) Set(id int) {
	if i, mask, ok := processorSetIndex(id); ok {
		set.words[i] |= mask
	}
}

func (set *ProcessorSet) Clear(id int) {
	if i, mask, ok := processorSetIndex(id); ok {
		set.words[i] &^= mask
	}
}

func (set *ProcessorSet) IsSet(id int) bool {
	i, mask, ok := processorSetIndex(id)
	return ok && set.words[i]&mask != 0
}

func (set *ProcessorSet) Zero() {
	set.words = [processorSetNumWords]uint64{}
}

func (set *ProcessorSet) Count() int {
	count := 0
	for _, w := range set.words {
		count += bits.OnesCount64(w)
	}
	return count
}

func (set *ProcessorSet) IsEmpty() bool {
	for _, w := range set.words {
		if w != 0 {
			return false
		}
	}
	return true
}

func (set *ProcessorSet) Equal(other *ProcessorSet) bool {
	return set.words == other.words
}

// Union and Intersect return a new set, the receiver is unchanged:
func (set *ProcessorSet) Union(other *ProcessorSet) *ProcessorSet {
	res := &ProcessorSet{}
	for i := range set.words {
		res.words[i] = set.words[i] | other.words[i]
	}
	return res
}

func (set *ProcessorSet) Intersect(other *ProcessorSet) *ProcessorSet {
	res := &ProcessorSet{}
	for i := range set.words {
		res.words[i] = set.words[i] & other.words[i]
	}
	return res
}

func (set *ProcessorSet) IsSubsetOf(other *ProcessorSet) bool {
	for i := range set.words {
		if set.words[i]&^other.words[i] != 0 {
			return false
		}
	}
	return true
}

// Ids in ascending order:
func (set *ProcessorSet) Ids() []int {
	ids := make([]int, 0, set.Count())
	for i, w := range set.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			ids = append(ids, i*processorSetWordBits+b)
			w &= w - 1
		}
	}
	return ids
}

// The n-th (0 based) id in ascending order, if any:
func (set *ProcessorSet) Nth(n int) (int, bool) {
	if n < 0 {
		return 0, false
	}
	for i, w := range set.words {
		c := bits.OnesCount64(w)
		if n >= c {
			n -= c
			continue
		}
		for ; n > 0; n-- {
			w &= w - 1
		}
		return i*processorSetWordBits + bits.TrailingZeros64(w), true
	}
	return 0, false
}

// Kernel cpu list format, e.g. "0-3,8,10-11":
func (set *ProcessorSet) String() string {
	buf := &bytes.Buffer{}
	ids := set.Ids()
	for i := 0; i < len(ids); {
		j := i
		for j+1 < len(ids) && ids[j+1] == ids[j]+1 {
			j++
		}
		if buf.Len() > 0 {
			buf.WriteByte(',')
		}
		if j > i {
			fmt.Fprintf(buf, "%d-%d", ids[i], ids[j])
		} else {
			fmt.Fprintf(buf, "%d", ids[i])
		}
		i = j + 1
	}
	return buf.String()
}
