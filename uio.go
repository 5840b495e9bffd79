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
	"encoding/binary"
	"io"
	"os"
	"sync/atomic"
)

// UIO is a userspace I/O interrupt device whose interrupts are
// delivered as edges to an EdgeSource.
type UIO struct {
	rw    io.ReadWriteCloser
	src   *EdgeSource
	count atomic.Int64
	done  chan struct{}
}

// WatchUIO opens an interrupt device such as /dev/uio0, enables the
// interrupt, and signals src once for each interrupt received.
func WatchUIO(path string, src *EdgeSource) (*UIO, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0660)
	if err != nil {
		return nil, err
	}
	u, err := newUIO(f, src)
	if err != nil {
		f.Close()
		return nil, err
	}
	return u, nil
}

func newUIO(rw io.ReadWriteCloser, src *EdgeSource) (*UIO, error) {
	u := &UIO{rw: rw, src: src, done: make(chan struct{})}
	if err := u.enable(); err != nil {
		return nil, err
	}
	go u.reader()
	return u, nil
}

// enable writes 1 to the device to unmask the interrupt.
func (u *UIO) enable() error {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], 1)
	_, err := u.rw.Write(b[:])
	return err
}

// Count returns the interrupt count last reported by the device.
func (u *UIO) Count() int {
	return int(u.count.Load())
}

// Close stops the reader and closes the device.
func (u *UIO) Close() error {
	err := u.rw.Close()
	<-u.done
	return err
}

// reader polls the device, which returns the 32 bit running count of
// interrupts on each read. Interrupts the kernel coalesced are signalled
// individually.
func (u *UIO) reader() {
	defer close(u.done)
	b := make([]byte, 4)
	var last int32
	first := true
	for {
		n, err := u.rw.Read(b)
		if err != nil {
			return
		}
		if n != 4 {
			continue
		}
		val := int32(binary.NativeEndian.Uint32(b))
		delta := int32(1)
		if !first && val-last > 0 {
			delta = val - last
		}
		first = false
		last = val
		u.count.Store(int64(val))
		for i := int32(0); i < delta; i++ {
			u.src.Signal()
		}
		if err := u.enable(); err != nil {
			return
		}
	}
}
