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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// regIO implements the io reader interfaces over a register window.
// Each register is fetched with a single 32 bit load and presented in
// little endian byte order, as the ARM core sees it.
type regIO struct {
	m       Mapping
	current int
	max     int
}

// Registers returns a reader over the register block of the Port.
// Reading never writes to the hardware, but note that reading the set
// and clear registers of real hardware returns undefined values.
func (p *Port) Registers() io.ReadSeeker {
	return &regIO{m: p.m, max: p.layout.Length &^ 3}
}

// Seek positions the reader within the register window. Offsets past
// the end are allowed and read as io.EOF.
func (r *regIO) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(r.current)
	case io.SeekEnd:
		base = int64(r.max)
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	pos := base + offset
	if pos < 0 {
		return 0, fmt.Errorf("seek: offset %d before start of registers", pos)
	}
	r.current = int(pos)
	return pos, nil
}

func (r *regIO) ReadByte() (byte, error) {
	if r.current >= r.max {
		return 0, io.EOF
	}
	v := r.m.Load(uintptr(r.current &^ 3))
	b := byte(v >> (8 * uint(r.current&3)))
	r.current++
	return b, nil
}

func (r *regIO) Read(p []byte) (int, error) {
	var n int
	var w [4]byte
	for n < len(p) && r.current < r.max {
		binary.LittleEndian.PutUint32(w[:], r.m.Load(uintptr(r.current&^3)))
		c := copy(p[n:], w[r.current&3:])
		n += c
		r.current += c
	}
	if n != len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ReadAt reads from off without moving the seek offset.
func (r *regIO) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at negative offset %d", off)
	}
	at := regIO{m: r.m, current: int(off), max: r.max}
	return at.Read(p)
}

// Dump writes the register block to w, one register per line.
func (p *Port) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	r := p.Registers()
	var b [4]byte
	for off := 0; ; off += 4 {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			break
		}
		fmt.Fprintf(bw, "%03x: %08x  %s\n", off, binary.LittleEndian.Uint32(b[:]), p.regName(uintptr(off)))
	}
	return bw.Flush()
}

// regName labels a register offset within the layout.
func (p *Port) regName(off uintptr) string {
	l := p.layout
	banks := uintptr((l.Lines + 31) / 32)
	sel := uintptr((l.Lines + 9) / 10)
	regs := []struct {
		name  string
		start uintptr
		n     uintptr
	}{
		{"fsel", l.Select, sel},
		{"set", l.Set, banks},
		{"clr", l.Clear, banks},
		{"lev", l.Level, banks},
		{"eds", l.EventStatus, banks},
		{"ren", l.Rising, banks},
		{"fen", l.Falling, banks},
	}
	for _, r := range regs {
		if off >= r.start && off < r.start+r.n*4 {
			return fmt.Sprintf("%s%d", r.name, (off-r.start)/4)
		}
	}
	return ""
}
