// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asan

import (
	"unsafe"

	"github.com/sirupsen/logrus"
)

// morgueSize is the quarantine ring's fixed capacity (spec.md's "Morgue"):
// 16 recently-freed pointers held back from the backing allocator so a
// stale reference the program still holds keeps tripping the use-after-free
// check instead of landing in reused memory.
const morgueSize = 16

// morgue is a fixed-capacity ring of recently-freed pointers.
type morgue struct {
	i int
	p [morgueSize]unsafe.Pointer
}

// add inserts p, evicting and returning whichever pointer currently
// occupies that slot (nil on the first morgueSize calls).
func (m *morgue) add(p unsafe.Pointer) unsafe.Pointer {
	r := m.p[m.i]
	m.p[m.i] = p
	m.i = (m.i + 1) % morgueSize
	return r
}

// Allocator is the instrumented malloc/free/realloc family: spec.md's
// InstrumentedAllocator. It wraps a backing.Store (the unsanitized,
// dlmalloc-style backing allocator) and surrounds every live object with
// poisoned redzones, routing freed pointers through a quarantine ring.
type Allocator struct {
	rt     *Runtime
	store  backingStore
	morgue morgue
}

// backingStore is the subset of *backing.Store the allocator depends on;
// declared as an interface so fault-path tests can substitute a fake
// backing store without mapping real shadow memory.
type backingStore interface {
	UnsafeMemalign(align, size int) (unsafe.Pointer, error)
	UnsafeFree(p unsafe.Pointer) error
}

func newAllocator(rt *Runtime, store backingStore) *Allocator {
	return &Allocator{rt: rt, store: store}
}

func roundupInt(n, m int) int { return (n + m - 1) &^ (m - 1) }

// allocate satisfies a backing request of the given alignment and user
// size, paints the left/right redzones (and the trailing partial-byte word
// when size is not a multiple of 8), and returns the user pointer. nil is
// propagated verbatim on backing-allocator failure — per spec.md §7 that is
// not an error, it is what the caller asked to observe.
func (a *Allocator) allocate(align, size int, underrun, overrun Kind) unsafe.Pointer {
	if size < 0 || size > maxInt-24 {
		// A saturated/overflowing size (spec.md's calloc(SIZE_MAX/2, 4)
		// scenario): no real backing allocator could satisfy it, so
		// fail the same way a request it rejects would, without risking
		// overflow in the roundup below.
		return nil
	}
	total := roundupInt(size, 8) + 16
	p, err := a.store.UnsafeMemalign(align, total)
	if err != nil || p == nil {
		if err != nil {
			log.WithFields(logrus.Fields{"align": align, "size": size, "err": err}).Debug("backing allocation failed")
		}
		return nil
	}

	base := uintptr(p) + 16
	a.rt.mapShadow(base-16, uintptr(total))

	// Left redzone, body (zero for addressable 8-byte words, one partial
	// byte for a trailing fragment), right redzone — spec.md's Allocation
	// layout, written directly rather than through PoisonRedzone: unlike
	// a global or alloca, a heap object has two independently-kinded
	// redzones, one on each side.
	s := Shadow(base - 16)
	writeShadow(s, 2, int8(underrun))
	s += 2
	q, r := size/8, size%8
	writeShadow(s, q, 0)
	s += uintptr(q)
	if r != 0 {
		writeShadow(s, 1, int8(r))
		s++
	}
	writeShadow(s, 2, int8(overrun))

	return unsafe.Pointer(base)
}

// deallocate poisons the object at p with kind and quarantines it. Reading
// the shadow byte at p's head first lets it reject double frees and frees
// of invalid pointers (spec.md's deallocate contract).
//
// The check `*s < 0 && *s != HeapOverrun` is preserved exactly as
// spec.md's Open Question describes: freeing a pointer whose head word
// currently reads as a heap-overrun redzone (e.g. of an adjacent, still
// live allocation) is treated as non-fault. Do not "fix" this without
// revisiting that Open Question.
func (a *Allocator) deallocate(p unsafe.Pointer, kind Kind) {
	s := shadowByte(uintptr(p))
	if (*s < 0 && Kind(*s) != KindHeapOverrun) || *s >= 8 {
		a.rt.reportDeallocateFault(p, *s)
		return
	}

	// backingUsableSize is measured from the backing block's data start,
	// which is 16 bytes before p (the left redzone); subtract that back
	// out so the paint covers exactly [p, block end), the same span
	// allocate wrote body + right redzone into.
	usable := backingUsableSize(p) - 16
	writeShadow(Shadow(uintptr(p)), usable/8, int8(kind))
	evicted := a.morgue.add(p)
	if evicted != nil {
		// evicted is the sanitizer-visible pointer (backing pointer + 16,
		// the left redzone); the backing store must see the pointer it
		// actually handed back from UnsafeMemalign.
		a.store.UnsafeFree(unsafe.Pointer(uintptr(evicted) - 16))
	}
}

// Malloc is equivalent to Memalign(16, size).
func (a *Allocator) Malloc(size int) unsafe.Pointer {
	return a.Memalign(16, size)
}

// Memalign allocates size bytes aligned to align bytes, surrounded by heap
// redzones.
func (a *Allocator) Memalign(align, size int) unsafe.Pointer {
	return a.allocate(align, size, KindHeapUnderrun, KindHeapOverrun)
}

// Calloc allocates n*m bytes, zeroed. An overflowing n*m saturates to the
// platform's maximum int, which allocate rejects before reaching the
// backing allocator, yielding nil — matching spec.md's calloc(SIZE_MAX/2, 4) scenario.
func (a *Allocator) Calloc(n, m int) unsafe.Pointer {
	size, overflow := mulOverflows(n, m)
	if overflow {
		size = maxInt
	}
	p := a.Malloc(size)
	if p == nil {
		return nil
	}
	zero(p, size)
	return p
}

// Realloc resizes the allocation at p to n bytes. p == nil with n > 0
// behaves like Malloc(n); p == nil with n <= 0 returns nil; n == 0 with a
// non-nil p behaves like Free(p) and returns nil. On relocation,
// the old object is poisoned with KindHeapRelocated (use-after-relocate)
// rather than KindHeapFree.
func (a *Allocator) Realloc(p unsafe.Pointer, n int) unsafe.Pointer {
	switch {
	case p == nil && n > 0:
		return a.Malloc(n)
	case p != nil && n == 0:
		a.Free(p)
		return nil
	case p == nil:
		return nil
	}

	q := a.Malloc(n)
	if q == nil {
		return nil
	}

	copyMin(q, p, n, backingUsableSize(p)-16)
	a.deallocate(p, KindHeapRelocated)
	return q
}

// Valloc allocates n bytes aligned to the system page size.
func (a *Allocator) Valloc(n int) unsafe.Pointer {
	return a.Memalign(pageSize(), n)
}

// Pvalloc is like Valloc but rounds n up to a whole number of pages.
func (a *Allocator) Pvalloc(n int) unsafe.Pointer {
	ps := pageSize()
	return a.Valloc(roundupInt(n, ps))
}

// Free deallocates p. Free(nil) is a no-op.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	a.deallocate(p, KindHeapFree)
}

// MallocUsableSize walks the shadow bytes from Shadow(p) forward, summing 8
// for each zero byte and the partial-byte count for the first positive
// byte, stopping at the first negative (poisoned) byte. The result is the
// sanitizer-visible usable size, which may be smaller than what the
// backing allocator actually reserved (spec.md invariant I5).
func MallocUsableSize(p unsafe.Pointer) int {
	if p == nil {
		return 0
	}
	n := 0
	s := Shadow(uintptr(p))
	for {
		b := *(*int8)(unsafe.Pointer(s))
		switch {
		case b == 0:
			n += 8
		case b > 0:
			n += int(b & 7)
			return n
		default:
			return n
		}
		s++
	}
}

func zero(p unsafe.Pointer, size int) {
	b := unsafe.Slice((*byte)(p), size)
	for i := range b {
		b[i] = 0
	}
}

func copyMin(dst, src unsafe.Pointer, n, srcUsable int) {
	m := n
	if srcUsable < m {
		m = srcUsable
	}
	d := unsafe.Slice((*byte)(dst), m)
	s := unsafe.Slice((*byte)(src), m)
	copy(d, s)
}
