package stack

// dedupSet remembers delivered sequences as a contiguous floor (everything
// below it was delivered) plus the sparse set above the floor.
type dedupSet struct {
	floor uint64
	above map[uint64]struct{}
}

func newDedupSet(origin uint64) *dedupSet {
	return &dedupSet{floor: origin, above: make(map[uint64]struct{})}
}

// Add records seq and reports whether it was new.
func (d *dedupSet) Add(seq uint64) bool {
	if seq < d.floor {
		return false
	}
	if _, ok := d.above[seq]; ok {
		return false
	}
	if seq != d.floor {
		d.above[seq] = struct{}{}
		return true
	}
	d.floor++
	for {
		if _, ok := d.above[d.floor]; !ok {
			break
		}
		delete(d.above, d.floor)
		d.floor++
	}
	return true
}

// Sparse is the number of sequences tracked above the floor.
func (d *dedupSet) Sparse() int {
	return len(d.above)
}
