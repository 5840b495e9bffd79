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
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nextTestBase atomic.Int64

// testBase returns a base address no other test uses.
func testBase() int64 {
	return 0x10000000 + nextTestBase.Add(1)*0x1000
}

// newSimPort maps a fresh simulated block, closing it when the test ends.
func newSimPort(t *testing.T) (*SimBank, *Port) {
	t.Helper()
	bank := NewSimBank(BCM2835Layout)
	p, err := MapWith(testBase(), BCM2835Layout.Length, bank)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return bank, p
}

func TestMapWith_alreadyMapped(t *testing.T) {
	base := testBase()
	p, err := MapWith(base, BCM2835Layout.Length, NewSimBank(BCM2835Layout))
	require.NoError(t, err)
	defer p.Close()

	_, err = MapWith(base, BCM2835Layout.Length, NewSimBank(BCM2835Layout))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyMapped)
	var me *MapError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, base, me.Base)
}

func TestMapWith_shortWindow(t *testing.T) {
	_, err := MapWith(testBase(), 0x10, NewSimBank(BCM2835Layout))
	var me *MapError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 0x10, me.Length)
}

func TestPort_closeOnce(t *testing.T) {
	base := testBase()
	bank := NewSimBank(BCM2835Layout)
	p, err := MapWith(base, BCM2835Layout.Length, bank)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Close(), ErrClosed)
	assert.ErrorIs(t, p.Close(), ErrClosed)
	assert.Equal(t, 1, p.Unmaps())
	assert.Equal(t, 1, bank.Unmaps())
	assert.True(t, p.Closed())

	// The base is free again.
	p2, err := MapWith(base, BCM2835Layout.Length, NewSimBank(BCM2835Layout))
	require.NoError(t, err)
	require.NoError(t, p2.Close())
}

// readBit reads one level bit, failing the test on error.
func readBit(t *testing.T, p *Port, bank, bit uint) bool {
	t.Helper()
	v, err := p.ReadBit(bank, bit)
	require.NoError(t, err)
	return v
}

func function(t *testing.T, p *Port, l Line) Function {
	t.Helper()
	fn, err := p.Function(l)
	require.NoError(t, err)
	return fn
}

func selectFunction(t *testing.T, p *Port, l Line, fn Function) bool {
	t.Helper()
	changed, err := p.SelectFunction(l, fn)
	require.NoError(t, err)
	return changed
}

func TestPort_setClearBits(t *testing.T) {
	bank, p := newSimPort(t)

	require.NoError(t, p.SetBits(0, 1<<16|1<<17))
	assert.True(t, bank.Level(16))
	assert.True(t, bank.Level(17))
	assert.True(t, readBit(t, p, 0, 16))

	require.NoError(t, p.ClearBits(0, 1<<16))
	assert.False(t, bank.Level(16))
	assert.True(t, bank.Level(17))
	assert.False(t, readBit(t, p, 0, 16))

	require.NoError(t, p.SetBits(1, 1<<(40-32)))
	assert.True(t, bank.Level(40))
	assert.True(t, readBit(t, p, 1, 8))
	assert.Equal(t, uint64(2), bank.Sets())
	assert.Equal(t, uint64(1), bank.Clears())
}

func TestPort_rangeDoesNotAlias(t *testing.T) {
	bank, p := newSimPort(t)
	_, err := p.SelectFunction(16, FuncOutput)
	require.NoError(t, err)
	require.NoError(t, p.SetBits(0, 1<<16))
	fsel := bank.Load(BCM2835Layout.Select)

	// Bank 3 of the set registers would be the first clear register.
	assert.ErrorIs(t, p.SetBits(3, 1<<16), ErrLineRange)
	assert.ErrorIs(t, p.ClearBits(2, 1<<16), ErrLineRange)
	// Bank 1 only holds lines 32 to 53.
	assert.ErrorIs(t, p.SetBits(1, 1<<22), ErrLineRange)
	_, err = p.ReadBit(2, 0)
	assert.ErrorIs(t, err, ErrLineRange)
	_, err = p.ReadBit(0, 32)
	assert.ErrorIs(t, err, ErrLineRange)
	// Line 70 would select within the set registers.
	changed, err := p.SelectFunction(70, FuncOutput)
	assert.ErrorIs(t, err, ErrLineRange)
	assert.False(t, changed)
	_, err = p.Function(-1)
	assert.ErrorIs(t, err, ErrLineRange)

	assert.True(t, bank.Level(16))
	assert.False(t, bank.Level(0))
	assert.Equal(t, fsel, bank.Load(BCM2835Layout.Select))
	assert.Equal(t, uint64(1), bank.Sets())
	assert.Zero(t, bank.Clears())
}

func TestPort_selectFunction(t *testing.T) {
	bank, p := newSimPort(t)

	assert.Equal(t, FuncInput, function(t, p, 25))
	assert.True(t, selectFunction(t, p, 25, FuncOutput))
	assert.False(t, selectFunction(t, p, 25, FuncOutput))
	assert.Equal(t, FuncOutput, function(t, p, 25))
	// Line 25 is field 5 of the third select register.
	assert.Equal(t, uint32(1<<15), bank.Load(BCM2835Layout.Select+8))

	assert.True(t, selectFunction(t, p, 24, FuncAlt5))
	assert.Equal(t, FuncAlt5, function(t, p, 24))
	assert.Equal(t, FuncOutput, function(t, p, 25))
	assert.Equal(t, "alt(2)", function(t, p, 24).String())
}

func TestPort_description(t *testing.T) {
	_, p := newSimPort(t)
	d := p.Description()
	assert.Contains(t, d, "54 lines")
	assert.Contains(t, d, "via sim")
	require.NoError(t, p.Close())
	assert.Contains(t, p.Description(), "(closed)")
}

func TestPort_registers(t *testing.T) {
	bank, p := newSimPort(t)
	bank.Drive(3, true)

	r := p.Registers()
	_, err := r.Seek(int64(BCM2835Layout.Level), io.SeekStart)
	require.NoError(t, err)
	var b [4]byte
	_, err = io.ReadFull(r, b[:])
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<3), binary.LittleEndian.Uint32(b[:]))

	// Unaligned reads see the same bytes.
	_, err = r.Seek(int64(BCM2835Layout.Level), io.SeekStart)
	require.NoError(t, err)
	rb := r.(io.ByteReader)
	v, err := rb.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(1<<3), v)

	all, err := io.ReadAll(p.Registers())
	require.NoError(t, err)
	assert.Len(t, all, BCM2835Layout.Length)
}

func TestPort_registersReadAt(t *testing.T) {
	bank, p := newSimPort(t)
	bank.Drive(35, true)

	r := p.Registers()
	ra := r.(io.ReaderAt)
	pos, err := r.Seek(-4, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(BCM2835Layout.Length-4), pos)

	var b [4]byte
	_, err = ra.ReadAt(b[:], int64(BCM2835Layout.Level+4))
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<3), binary.LittleEndian.Uint32(b[:]))
	// The seek offset is unchanged.
	cur, err := r.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, pos, cur)

	_, err = ra.ReadAt(b[:], int64(BCM2835Layout.Length))
	assert.ErrorIs(t, err, io.EOF)
	_, err = r.Seek(-1, io.SeekStart)
	assert.Error(t, err)
}

func TestPort_dump(t *testing.T) {
	bank, p := newSimPort(t)
	bank.Drive(0, true)
	var buf bytes.Buffer
	require.NoError(t, p.Dump(&buf))
	assert.Contains(t, buf.String(), "034: 00000001  lev0\n")
	assert.Contains(t, buf.String(), "000: 00000000  fsel0\n")
	assert.Equal(t, BCM2835Layout.Length/4, bytes.Count(buf.Bytes(), []byte("\n")))
}
