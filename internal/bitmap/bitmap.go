// Package bitmap implements the allocation map described in spec.md §4.B:
// a byte-per-flag Free/Used map with first-fit allocation, explicit-index
// allocation, span allocation, span free, and a stable byte view for
// persistence.
package bitmap

import (
	"errors"
	"fmt"
)

// Flag is the allocation state of a single object.
type Flag byte

const (
	Free Flag = 0
	Used Flag = 1
)

var (
	// ErrOutOfSpace is returned by Allocate when no free span of the
	// requested length exists. Allocate(0) always returns this error.
	ErrOutOfSpace = errors.New("bitmap: out of space")
	// ErrObjectOccupied is returned by AllocateAt/AllocateSpan when any
	// flag in the requested index/span is already Used.
	ErrObjectOccupied = errors.New("bitmap: object occupied")
)

// ErrIndexOutOfBounds is returned whenever an index or span falls outside
// [0, count).
type ErrIndexOutOfBounds struct {
	Index, Count int
}

func (e *ErrIndexOutOfBounds) Error() string {
	return fmt.Sprintf("bitmap: index %d out of bounds (count %d)", e.Index, e.Count)
}

// Span is a half-open range of object indices [Start, End).
type Span struct {
	Start, End int
}

// Len returns the number of indices the span covers.
func (s Span) Len() int { return s.End - s.Start }

// Map is a sequence of one-byte allocation flags.
type Map struct {
	flags []Flag
}

// New constructs a zero-initialized (all-Free) map of the given length.
func New(count int) *Map {
	return &Map{flags: make([]Flag, count)}
}

// Count returns the number of flags in the map.
func (m *Map) Count() int { return len(m.flags) }

// Clone returns an independent copy of the map, for callers (the
// transaction layer) that need to mutate a working copy without affecting
// the original until some later commit point.
func (m *Map) Clone() *Map {
	cp := make([]Flag, len(m.flags))
	copy(cp, m.flags)
	return &Map{flags: cp}
}

// At returns the flag at index i.
func (m *Map) At(i int) (Flag, error) {
	if i < 0 || i >= len(m.flags) {
		return Free, &ErrIndexOutOfBounds{Index: i, Count: len(m.flags)}
	}
	return m.flags[i], nil
}

func (m *Map) checkSpan(s Span) error {
	if s.Start < 0 || s.End > len(m.flags) || s.Start > s.End {
		idx := s.Start
		if s.End > len(m.flags) {
			idx = s.End
		}
		return &ErrIndexOutOfBounds{Index: idx, Count: len(m.flags)}
	}
	return nil
}

// findFree returns the leftmost span of exactly count consecutive Free
// flags, or false if none exists. count == 0 never matches.
func (m *Map) findFree(count int) (Span, bool) {
	if count <= 0 {
		return Span{}, false
	}
	start := 0
	for i, f := range m.flags {
		if f == Used {
			start = i + 1
			continue
		}
		if (i+1)-start == count {
			return Span{Start: start, End: i + 1}, true
		}
	}
	return Span{}, false
}

// Allocate finds the leftmost span of count consecutive Free flags, marks
// it Used, and returns it. count == 0 always yields ErrOutOfSpace.
func (m *Map) Allocate(count int) (Span, error) {
	span, ok := m.findFree(count)
	if !ok {
		return Span{}, ErrOutOfSpace
	}
	for i := span.Start; i < span.End; i++ {
		m.flags[i] = Used
	}
	return span, nil
}

// AllocateAt marks the single index i Used, failing if it is already Used.
func (m *Map) AllocateAt(i int) error {
	return m.AllocateSpan(Span{Start: i, End: i + 1})
}

// AllocateSpan marks every index in s Used, failing if any is already
// Used. On failure no flag in the span is modified.
func (m *Map) AllocateSpan(s Span) error {
	if err := m.checkSpan(s); err != nil {
		return err
	}
	for i := s.Start; i < s.End; i++ {
		if m.flags[i] == Used {
			return ErrObjectOccupied
		}
	}
	for i := s.Start; i < s.End; i++ {
		m.flags[i] = Used
	}
	return nil
}

// Free marks every index in s Free. It is not an error for flags to
// already be Free.
func (m *Map) Free(s Span) error {
	if err := m.checkSpan(s); err != nil {
		return err
	}
	for i := s.Start; i < s.End; i++ {
		m.flags[i] = Free
	}
	return nil
}

// AsBytes returns a byte view of the map for persistence: one byte per
// flag, 0 for Free and 1 for Used.
func (m *Map) AsBytes() []byte {
	b := make([]byte, len(m.flags))
	for i, f := range m.flags {
		b[i] = byte(f)
	}
	return b
}

// FromBytes reconstructs a Map of the given count from a persisted byte
// slice, ignoring any trailing padding beyond count.
func FromBytes(b []byte, count int) (*Map, error) {
	if len(b) < count {
		return nil, fmt.Errorf("bitmap: need %d bytes, got %d", count, len(b))
	}
	flags := make([]Flag, count)
	for i := 0; i < count; i++ {
		if b[i] != 0 {
			flags[i] = Used
		}
	}
	return &Map{flags: flags}, nil
}

// FreeCount returns how many flags are currently Free.
func (m *Map) FreeCount() int {
	n := 0
	for _, f := range m.flags {
		if f == Free {
			n++
		}
	}
	return n
}
