// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtgpio

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// SimBank is a software register block with the behaviour of the GPIO
// hardware: stores to the set and clear registers change the level
// register atomically, and writing 1 to the event status register clears
// the latched events. It implements Mapping, so a Port may be built on it
// with MapWith.
type SimBank struct {
	layout Layout
	banks  int
	regs   []atomic.Uint32

	sets   atomic.Uint64
	clears atomic.Uint64
	unmaps atomic.Int32

	mu    sync.Mutex
	hooks map[Line][]func(Edge)
}

// NewSimBank creates a simulated register block with all lines low and
// configured as inputs.
func NewSimBank(l Layout) *SimBank {
	return &SimBank{
		layout: l,
		banks:  (l.Lines + 31) / 32,
		regs:   make([]atomic.Uint32, (l.Length+3)/4),
		hooks:  make(map[Line][]func(Edge)),
	}
}

// bankOf returns the bank index if off falls within the banked register
// starting at reg.
func (s *SimBank) bankOf(off, reg uintptr) (int, bool) {
	if off < reg || off >= reg+uintptr(s.banks)*4 {
		return 0, false
	}
	return int(off-reg) / 4, true
}

func (s *SimBank) reg(off uintptr) *atomic.Uint32 {
	return &s.regs[off/4]
}

// Load reads one register. The set and clear registers read as zero.
func (s *SimBank) Load(off uintptr) uint32 {
	if _, ok := s.bankOf(off, s.layout.Set); ok {
		return 0
	}
	if _, ok := s.bankOf(off, s.layout.Clear); ok {
		return 0
	}
	return s.reg(off).Load()
}

// Store writes one register.
func (s *SimBank) Store(off uintptr, v uint32) {
	if b, ok := s.bankOf(off, s.layout.Set); ok {
		s.sets.Add(1)
		s.update(b, func(old uint32) uint32 { return old | v })
		return
	}
	if b, ok := s.bankOf(off, s.layout.Clear); ok {
		s.clears.Add(1)
		s.update(b, func(old uint32) uint32 { return old &^ v })
		return
	}
	if _, ok := s.bankOf(off, s.layout.EventStatus); ok {
		r := s.reg(off)
		for {
			old := r.Load()
			if r.CompareAndSwap(old, old&^v) {
				return
			}
		}
	}
	s.reg(off).Store(v)
}

// update applies f to the level register of bank b, then latches and
// reports the lines that changed.
func (s *SimBank) update(b int, f func(uint32) uint32) {
	r := s.reg(s.layout.Level + uintptr(b)*4)
	var old, nv uint32
	for {
		old = r.Load()
		nv = f(old)
		if r.CompareAndSwap(old, nv) {
			break
		}
	}
	changed := old ^ nv
	if changed == 0 {
		return
	}
	rising := changed & nv
	falling := changed &^ nv
	latch := rising&s.reg(s.layout.Rising+uintptr(b)*4).Load() |
		falling&s.reg(s.layout.Falling+uintptr(b)*4).Load()
	if latch != 0 {
		es := s.reg(s.layout.EventStatus + uintptr(b)*4)
		for {
			o := es.Load()
			if es.CompareAndSwap(o, o|latch) {
				break
			}
		}
	}
	for changed != 0 {
		bit := bits.TrailingZeros32(changed)
		changed &^= 1 << bit
		e := EdgeFalling
		if rising&(1<<bit) != 0 {
			e = EdgeRising
		}
		s.fire(Line(b*32+bit), e)
	}
}

func (s *SimBank) fire(l Line, e Edge) {
	s.mu.Lock()
	hooks := s.hooks[l]
	s.mu.Unlock()
	for _, f := range hooks {
		f(e)
	}
}

// Unmap records the release. The register contents are kept so tests
// can inspect them afterwards.
func (s *SimBank) Unmap() error {
	s.unmaps.Add(1)
	return nil
}

func (s *SimBank) String() string {
	return "sim"
}

// Drive sets the external level of a line, as a signal generator wired to
// the pin would. Hooks fire if the level changes.
func (s *SimBank) Drive(l Line, high bool) {
	b, mask := l.bank()
	if high {
		s.update(int(b), func(old uint32) uint32 { return old | mask })
	} else {
		s.update(int(b), func(old uint32) uint32 { return old &^ mask })
	}
}

// Pulse drives the line high then low, producing one rising and one
// falling edge.
func (s *SimBank) Pulse(l Line) {
	s.Drive(l, true)
	s.Drive(l, false)
}

// Level returns the current level of a line.
func (s *SimBank) Level(l Line) bool {
	b, mask := l.bank()
	return s.reg(s.layout.Level+uintptr(b)*4).Load()&mask != 0
}

// OnEdge installs a hook invoked synchronously on every level change of
// the line. Hooks run in the context of the store or Drive that caused
// the change and must not block, e.g
//
//	src := NewEdgeSource(EdgeRising)
//	bank.OnEdge(24, func(e Edge) { src.Notify(e) })
func (s *SimBank) OnEdge(l Line, f func(Edge)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[l] = append(s.hooks[l], f)
}

// Feed connects the line to an edge source.
func (s *SimBank) Feed(l Line, src *EdgeSource) {
	s.OnEdge(l, func(e Edge) { src.Notify(e) })
}

// Sets returns the number of stores to the set registers.
func (s *SimBank) Sets() uint64 {
	return s.sets.Load()
}

// Clears returns the number of stores to the clear registers.
func (s *SimBank) Clears() uint64 {
	return s.clears.Load()
}

// Unmaps returns the number of times the block has been released.
func (s *SimBank) Unmaps() int {
	return int(s.unmaps.Load())
}
