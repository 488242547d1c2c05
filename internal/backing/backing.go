// Copyright 2026 The Fenceguard Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backing implements the unsanitized, page-grained memory allocator
// that the sanitizer runtime uses as its backing store. It plays the role
// spec.md assigns to an external dlmalloc-style allocator: callers above it
// (goasan's InstrumentedAllocator) paint shadow bytes and redzones around
// whatever this package hands back; this package itself knows nothing about
// shadow memory, poisoning, or redzones.
package backing

import (
	"os"
	"unsafe"

	"github.com/cznic/mathutil"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const mallocAlign = 16 // Must be >= 16.

var (
	log = logrus.WithField("component", "backing")

	pageSize    = os.Getpagesize()
	osPageSize  = pageSize
	headerSize  = roundup(int(unsafe.Sizeof(page{})), mallocAlign)
	maxSlotSize = pageAvail >> 1
	osPageMask  = osPageSize - 1
	pageAvail   = pageSize - headerSize
	pageMask    = pageSize - 1

	// trace enables verbose per-operation logging, matching the
	// teacher's debug-build knob.
	trace = false
)

// if n%m != 0 { n += m-n%m }. m must be a power of 2.
func roundup(n, m int) int { return (n + m - 1) &^ (m - 1) }

type node struct {
	prev, next *node
}

// page is the header written at the start of every OS mapping. Small
// objects live inside a shared page sliced into equal-size slots (a "bucket
// page", log != 0); large objects get a dedicated page (log == 0).
type page struct {
	brk  int
	log  uint
	size int
	used int
}

// Store allocates and frees memory in page-grained chunks obtained from the
// OS. Its zero value is ready for use. Store is not safe for concurrent use
// — spec.md §5 assumes the same of the sanitizer core built on top of it.
type Store struct {
	allocs int // # of live allocations.
	bytes  int // Bytes asked from the OS.
	cap    [64]int
	lists  [64]*node
	mmaps  int
	pages  [64]*page
	regs   map[*page]struct{}
}

func (s *Store) mmap(size int) (*page, error) {
	b, err := mmap(size)
	if err != nil {
		return nil, errors.Wrap(err, "backing: mmap")
	}

	s.mmaps++
	s.bytes += len(b)
	p := (*page)(unsafe.Pointer(&b[0]))
	if s.regs == nil {
		s.regs = map[*page]struct{}{}
	}
	p.size = len(b)
	s.regs[p] = struct{}{}
	return p, nil
}

func (s *Store) newPage(size int) (*page, error) {
	size += headerSize
	p, err := s.mmap(size)
	if err != nil {
		return nil, err
	}

	p.log = 0
	return p, nil
}

func (s *Store) newSharedPage(logSlot uint) (*page, error) {
	if s.cap[logSlot] == 0 {
		s.cap[logSlot] = pageAvail / (1 << logSlot)
	}
	size := headerSize + s.cap[logSlot]<<logSlot
	p, err := s.mmap(size)
	if err != nil {
		return nil, err
	}

	s.pages[logSlot] = p
	p.log = logSlot
	return p, nil
}

func (s *Store) unmap(p *page) error {
	delete(s.regs, p)
	s.mmaps--
	return unmap(unsafe.Pointer(p), p.size)
}

// Close releases all OS resources used by s and resets it to its zero
// value. Not required before process exit.
func (s *Store) Close() (err error) {
	for p := range s.regs {
		if e := s.unmap(p); e != nil && err == nil {
			err = e
		}
	}
	*s = Store{}
	return err
}

// UnsafeMalloc allocates size bytes, 16-byte aligned, and returns an
// unsafe.Pointer to the first byte. The memory is not initialized.
// UnsafeMalloc returns (nil, nil) for size == 0.
func (s *Store) UnsafeMalloc(size int) (unsafe.Pointer, error) {
	return s.UnsafeMemalign(mallocAlign, size)
}

// UnsafeMemalign is like UnsafeMalloc but guarantees the returned pointer is
// aligned to align bytes, which must be a power of two. Alignments above
// the OS page size are not supported.
func (s *Store) UnsafeMemalign(align, size int) (r unsafe.Pointer, err error) {
	if trace {
		defer func() {
			log.WithFields(logrus.Fields{"align": align, "size": size, "ptr": r}).Trace("memalign")
		}()
	}
	if size < 0 {
		panic("backing: invalid allocation size")
	}
	if align < mallocAlign {
		align = mallocAlign
	}
	if size == 0 {
		return nil, nil
	}

	s.allocs++

	// Anything wanting more than our default alignment, or too big for a
	// shared bucket page, gets a dedicated page.
	logSlot := uint(mathutil.BitLen(roundup(size, mallocAlign) - 1))
	if align > mallocAlign || 1<<logSlot > maxSlotSize {
		if align > osPageSize {
			s.allocs--
			return nil, errors.Errorf("backing: alignment %d exceeds page size %d", align, osPageSize)
		}

		if align > mallocAlign {
			// headerSize is fixed at 32 bytes: rounding pageBase+headerSize
			// up to align can itself reach the next page boundary when
			// align == osPageSize, so the header can't simply precede the
			// data at a headerSize offset the way the plain large-object
			// path below does. Instead reserve a whole dedicated leading
			// page for the header and hand back the page-aligned start of
			// the page(s) right after it: page-aligned satisfies any
			// align <= osPageSize, and the header no longer shares a page
			// with — or competes for space with — the caller's bytes.
			pg, err := s.mmap(osPageSize + size)
			if err != nil {
				s.allocs--
				return nil, err
			}
			pg.log = 0
			return unsafe.Pointer(uintptr(unsafe.Pointer(pg)) + uintptr(osPageSize)), nil
		}

		p, err := s.newPage(size)
		if err != nil {
			s.allocs--
			return nil, err
		}
		return unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(headerSize)), nil
	}

	if s.lists[logSlot] == nil && s.pages[logSlot] == nil {
		if _, err := s.newSharedPage(logSlot); err != nil {
			s.allocs--
			return nil, err
		}
	}

	if p := s.pages[logSlot]; p != nil {
		p.used++
		p.brk++
		if p.brk == s.cap[logSlot] {
			s.pages[logSlot] = nil
		}
		return unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(headerSize+(p.brk-1)<<logSlot)), nil
	}

	n := s.lists[logSlot]
	p := (*page)(unsafe.Pointer(uintptr(unsafe.Pointer(n)) &^ uintptr(pageMask)))
	s.lists[logSlot] = n.next
	if n.next != nil {
		n.next.prev = nil
	}
	p.used++
	return unsafe.Pointer(n), nil
}

// UnsafeCalloc is like UnsafeMalloc except the allocated memory is zeroed.
func (s *Store) UnsafeCalloc(size int) (unsafe.Pointer, error) {
	r, err := s.UnsafeMalloc(size)
	if r == nil || err != nil {
		return nil, err
	}

	zero(r, size)
	return r, nil
}

// pageFor recovers the *page header for a pointer returned by
// UnsafeMalloc, UnsafeMemalign, UnsafeCalloc or UnsafeRealloc.
//
// Ordinarily the header sits at a fixed headerSize-byte offset before the
// returned pointer, so rounding the pointer down to the OS page boundary
// finds it. UnsafeMemalign's over-aligned dedicated-page path is the one
// exception: it hands back a pointer that is itself exactly page-aligned
// (required to satisfy align == osPageSize), so its header instead lives
// a whole OS page earlier. No other path ever returns a page-aligned
// pointer — every bucket slot and plain dedicated-page pointer sits at a
// nonzero, sub-page offset from its page's start — so testing alignment
// of p unambiguously distinguishes the two cases.
func pageFor(p unsafe.Pointer) (pg *page, overAligned bool) {
	if uintptr(p)&uintptr(pageMask) == 0 {
		return (*page)(unsafe.Pointer(uintptr(p) - uintptr(osPageSize))), true
	}
	return (*page)(unsafe.Pointer(uintptr(p) &^ uintptr(pageMask))), false
}

// UnsafeFree deallocates memory acquired from UnsafeMalloc, UnsafeCalloc,
// UnsafeMemalign or UnsafeRealloc. UnsafeFree(nil) is a no-op.
func (s *Store) UnsafeFree(p unsafe.Pointer) (err error) {
	if trace {
		defer func() { log.WithField("ptr", p).Trace("free") }()
	}
	if p == nil {
		return nil
	}

	s.allocs--
	pg, _ := pageFor(p)
	logSlot := pg.log
	if logSlot == 0 {
		s.bytes -= pg.size
		return s.unmap(pg)
	}

	n := (*node)(p)
	n.prev = nil
	n.next = s.lists[logSlot]
	if n.next != nil {
		n.next.prev = n
	}
	s.lists[logSlot] = n
	pg.used--
	if pg.used != 0 {
		return nil
	}

	for i := 0; i < pg.brk; i++ {
		n := (*node)(unsafe.Pointer(uintptr(unsafe.Pointer(pg)) + uintptr(headerSize+i<<logSlot)))
		switch {
		case n.prev == nil:
			s.lists[logSlot] = n.next
			if n.next != nil {
				n.next.prev = nil
			}
		case n.next == nil:
			n.prev.next = nil
		default:
			n.prev.next = n.next
			n.next.prev = n.prev
		}
	}

	if s.pages[logSlot] == pg {
		s.pages[logSlot] = nil
	}
	s.bytes -= pg.size
	return s.unmap(pg)
}

// UnsafeUsableSize reports the size of the memory block backing p, which
// must have come from UnsafeMalloc, UnsafeCalloc, UnsafeMemalign or
// UnsafeRealloc. The usable size can be larger than what was requested.
func UnsafeUsableSize(p unsafe.Pointer) int {
	if p == nil {
		return 0
	}

	pg, overAligned := pageFor(p)
	if pg.log != 0 {
		return 1 << pg.log
	}
	if overAligned {
		return pg.size - osPageSize
	}

	return pg.size - headerSize
}

// UnsafeRealloc changes the size of the allocation at p to size bytes.
// Contents up to the minimum of the old and new sizes are preserved. p ==
// nil behaves like UnsafeMalloc(size); size == 0 behaves like
// UnsafeFree(p) and returns (nil, nil).
func (s *Store) UnsafeRealloc(p unsafe.Pointer, size int) (unsafe.Pointer, error) {
	switch {
	case p == nil:
		return s.UnsafeMalloc(size)
	case size == 0:
		return nil, s.UnsafeFree(p)
	}

	us := UnsafeUsableSize(p)
	if us >= size {
		return p, nil
	}

	r, err := s.UnsafeMalloc(size)
	if err != nil {
		return nil, err
	}

	copyBytes(r, p, us)
	return r, s.UnsafeFree(p)
}

func zero(p unsafe.Pointer, size int) {
	b := unsafe.Slice((*byte)(p), size)
	for i := range b {
		b[i] = 0
	}
}

func copyBytes(dst, src unsafe.Pointer, size int) {
	d := unsafe.Slice((*byte)(dst), size)
	s := unsafe.Slice((*byte)(src), size)
	copy(d, s)
}
