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
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// GPIO controller base addresses for the Broadcom SoCs.
const (
	BCM2708Base = 0x20200000 // BCM2835, Raspberry Pi 1 and Zero
	BCM2709Base = 0x3F200000 // BCM2836/7, Raspberry Pi 2 and 3
	BCM2711Base = 0xFE200000 // BCM2711, Raspberry Pi 4
)

// Mapping is a window onto a block of 32 bit device registers.
// Offsets are byte offsets from the start of the block, and every access
// is a single aligned 32 bit load or store.
type Mapping interface {
	Load(off uintptr) uint32
	Store(off uintptr, v uint32)
	Unmap() error
}

// Layout describes where the registers of a digital I/O block live.
// Set and Clear are write-1 registers: storing a mask sets or clears
// exactly the masked lines and leaves the others untouched.
type Layout struct {
	Lines       int     // Number of addressable lines
	Select      uintptr // Function select, 3 bits per line, 10 lines per register
	Set         uintptr // Output set, one bank of 32 lines per register
	Clear       uintptr // Output clear
	Level       uintptr // Pin level
	EventStatus uintptr // Event detect status, write 1 to clear
	Rising      uintptr // Rising edge detect enable
	Falling     uintptr // Falling edge detect enable
	Length      int     // Size of the register block in bytes
}

// BCM2835Layout is the GPIO register block of the Raspberry Pi family.
var BCM2835Layout = Layout{
	Lines:       54,
	Select:      0x00,
	Set:         0x1C,
	Clear:       0x28,
	Level:       0x34,
	EventStatus: 0x40,
	Rising:      0x4C,
	Falling:     0x58,
	Length:      0xB4,
}

// Function is the value of a line's function select field.
type Function uint8

const (
	FuncInput  Function = 0
	FuncOutput Function = 1
	FuncAlt0   Function = 4
	FuncAlt1   Function = 5
	FuncAlt2   Function = 6
	FuncAlt3   Function = 7
	FuncAlt4   Function = 3
	FuncAlt5   Function = 2
)

func (f Function) String() string {
	switch f {
	case FuncInput:
		return "input"
	case FuncOutput:
		return "output"
	}
	return fmt.Sprintf("alt(%d)", f)
}

// Port owns one mapped register block. There is at most one live Port
// per base address; it is created by Map or MapWith and destroyed by Close.
type Port struct {
	base   int64
	length int
	layout Layout
	m      Mapping

	fsel   sync.Mutex // serialises function select read-modify-write
	closed atomic.Bool
	unmaps atomic.Int32
}

type portConfig struct {
	layout Layout
	device string
	devMem bool
}

// PortOption configures Map and MapWith.
type PortOption func(c *portConfig)

// WithLayout selects a register layout other than BCM2835Layout.
func WithLayout(l Layout) PortOption {
	return func(c *portConfig) {
		c.layout = l
	}
}

// WithDevMem maps the block through /dev/mem at its physical base,
// instead of /dev/gpiomem. Requires root.
func WithDevMem() PortOption {
	return func(c *portConfig) {
		c.devMem = true
	}
}

// WithDevice overrides the device file used by Map.
func WithDevice(path string) PortOption {
	return func(c *portConfig) {
		c.device = path
	}
}

// Live ports, keyed by base address.
var (
	portsMu sync.Mutex
	ports   = make(map[int64]*Port)
)

func newPortConfig(opts []PortOption) *portConfig {
	c := &portConfig{layout: BCM2835Layout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Map maps the register block at base. It fails with a *MapError if the
// block is already mapped by this process, or the OS refuses the mapping.
func Map(base int64, length int, opts ...PortOption) (*Port, error) {
	c := newPortConfig(opts)
	portsMu.Lock()
	defer portsMu.Unlock()
	if err := checkWindow(base, length, c); err != nil {
		return nil, err
	}
	m, err := mapDevice(c, base, length)
	if err != nil {
		return nil, &MapError{Base: base, Length: length, Err: err}
	}
	return addPort(base, length, c, m), nil
}

// MapWith registers an already established mapping as the Port for base.
// It is used for simulated blocks and syscall mediated register access.
func MapWith(base int64, length int, m Mapping, opts ...PortOption) (*Port, error) {
	c := newPortConfig(opts)
	portsMu.Lock()
	defer portsMu.Unlock()
	if err := checkWindow(base, length, c); err != nil {
		return nil, err
	}
	return addPort(base, length, c, m), nil
}

// checkWindow must be called with portsMu held.
func checkWindow(base int64, length int, c *portConfig) error {
	if _, ok := ports[base]; ok {
		return &MapError{Base: base, Length: length, Err: ErrAlreadyMapped}
	}
	if base < 0 || length < c.layout.Length {
		return &MapError{Base: base, Length: length,
			Err: fmt.Errorf("window out of range, need 0x%x bytes", c.layout.Length)}
	}
	return nil
}

// addPort must be called with portsMu held.
func addPort(base int64, length int, c *portConfig, m Mapping) *Port {
	p := &Port{base: base, length: length, layout: c.layout, m: m}
	ports[base] = p
	return p
}

// Close releases the mapping. The mapping is released exactly once;
// subsequent calls return ErrClosed.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	portsMu.Lock()
	if ports[p.base] == p {
		delete(ports, p.base)
	}
	portsMu.Unlock()
	p.unmaps.Add(1)
	return p.m.Unmap()
}

// Closed reports whether the Port has been closed.
func (p *Port) Closed() bool {
	return p.closed.Load()
}

// Unmaps returns the number of times the mapping has been released.
func (p *Port) Unmaps() int {
	return int(p.unmaps.Load())
}

// Base returns the base address of the block.
func (p *Port) Base() int64 {
	return p.base
}

// Layout returns the register layout of the block.
func (p *Port) Layout() Layout {
	return p.layout
}

// Lines returns the number of addressable lines.
func (p *Port) Lines() int {
	return p.layout.Lines
}

// banks returns the number of 32 line register banks.
func (p *Port) banks() uint {
	return uint(p.layout.Lines+31) / 32
}

// checkBits rejects a bank or mask naming lines outside the layout, so
// that a bad index can never reach a neighbouring register.
func (p *Port) checkBits(bank uint, mask uint32) error {
	if bank >= p.banks() {
		return fmt.Errorf("bank %d: %w", bank, ErrLineRange)
	}
	if n := p.layout.Lines - int(bank)*32; n < 32 && mask>>uint(n) != 0 {
		return fmt.Errorf("bank %d mask 0x%08x: %w", bank, mask, ErrLineRange)
	}
	return nil
}

func (p *Port) checkLine(l Line) error {
	if l < 0 || int(l) >= p.layout.Lines {
		return fmt.Errorf("line %d: %w", l, ErrLineRange)
	}
	return nil
}

// ReadBit returns the level of one bit in a level register bank.
func (p *Port) ReadBit(bank, bit uint) (bool, error) {
	if bit > 31 {
		return false, fmt.Errorf("bit %d: %w", bit, ErrLineRange)
	}
	if err := p.checkBits(bank, 1<<bit); err != nil {
		return false, err
	}
	return p.m.Load(p.layout.Level+uintptr(bank)*4)&(1<<bit) != 0, nil
}

// SetBits drives the masked lines of a bank high with a single store
// to the bank's set register.
func (p *Port) SetBits(bank uint, mask uint32) error {
	if err := p.checkBits(bank, mask); err != nil {
		return err
	}
	p.m.Store(p.layout.Set+uintptr(bank)*4, mask)
	return nil
}

// ClearBits drives the masked lines of a bank low with a single store
// to the bank's clear register.
func (p *Port) ClearBits(bank uint, mask uint32) error {
	if err := p.checkBits(bank, mask); err != nil {
		return err
	}
	p.m.Store(p.layout.Clear+uintptr(bank)*4, mask)
	return nil
}

// Function returns the current function select value of the line.
func (p *Port) Function(l Line) (Function, error) {
	if err := p.checkLine(l); err != nil {
		return FuncInput, err
	}
	off, shift := p.selectReg(l)
	return Function((p.m.Load(off) >> shift) & 7), nil
}

// SelectFunction sets the function select value of the line, returning
// false if it already had that value. This is a read-modify-write and
// must not be called from interrupt context.
func (p *Port) SelectFunction(l Line, fn Function) (bool, error) {
	if err := p.checkLine(l); err != nil {
		return false, err
	}
	off, shift := p.selectReg(l)
	p.fsel.Lock()
	defer p.fsel.Unlock()
	v := p.m.Load(off)
	if Function((v>>shift)&7) == fn {
		return false, nil
	}
	p.m.Store(off, (v&^(7<<shift))|uint32(fn&7)<<shift)
	return true, nil
}

func (p *Port) selectReg(l Line) (uintptr, uint) {
	return p.layout.Select + uintptr(l/10)*4, uint(l%10) * 3
}

// Description returns a human readable string describing the Port.
func (p *Port) Description() string {
	var s strings.Builder
	fmt.Fprintf(&s, "GPIO 0x%08x", p.base)
	fmt.Fprintf(&s, " %d lines", p.layout.Lines)
	if st, ok := p.m.(fmt.Stringer); ok {
		fmt.Fprintf(&s, " via %s", st)
	}
	if p.closed.Load() {
		fmt.Fprint(&s, " (closed)")
	}
	return s.String()
}
