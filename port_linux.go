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

//go:build linux

package rtgpio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device paths.
const (
	drvGpioMem = "/dev/gpiomem"
	drvMem     = "/dev/mem"
	drvRanges  = "/proc/device-tree/soc/ranges"
)

// Offset of the GPIO block from the peripheral base.
const gpioOffset = 0x200000

// mmapMapping is a register window mapped from a device file.
type mmapMapping struct {
	file *os.File
	mem  []byte
	adj  uintptr // offset of the block within the page aligned mapping
}

func mapDevice(c *portConfig, base int64, length int) (Mapping, error) {
	dev := c.device
	if dev == "" {
		dev = drvGpioMem
		if c.devMem {
			dev = drvMem
		}
	}
	f, err := os.OpenFile(dev, os.O_RDWR|os.O_SYNC, 0660)
	if err != nil {
		return nil, err
	}
	// /dev/gpiomem always maps the GPIO block at offset 0.
	var offs int64
	if dev != drvGpioMem {
		offs = base
	}
	page := int64(os.Getpagesize())
	start := offs &^ (page - 1)
	adj := uintptr(offs - start)
	size := int((int64(adj) + int64(length) + page - 1) &^ (page - 1))
	mem, err := unix.Mmap(int(f.Fd()), start, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %v", dev, err)
	}
	return &mmapMapping{file: f, mem: mem, adj: adj}, nil
}

// Load reads one 32 bit register
func (m *mmapMapping) Load(off uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&m.mem[m.adj+off])))
}

// Store writes one 32 bit register
func (m *mmapMapping) Store(off uintptr, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&m.mem[m.adj+off])), v)
}

func (m *mmapMapping) Unmap() error {
	err := unix.Munmap(m.mem)
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (m *mmapMapping) String() string {
	return "mmap " + m.file.Name()
}

// DetectBase returns the physical GPIO base address of the running board,
// using the SoC ranges published in the device tree.
func DetectBase() (int64, error) {
	b, err := os.ReadFile(drvRanges)
	if err != nil {
		return 0, err
	}
	if len(b) < 8 {
		return 0, fmt.Errorf("%s: short read", drvRanges)
	}
	periph := int64(binary.BigEndian.Uint32(b[4:8]))
	// BCM2711 uses 64 bit child addresses, with the base in the next cell.
	if periph == 0 && len(b) >= 12 {
		periph = int64(binary.BigEndian.Uint32(b[8:12]))
	}
	if periph == 0 {
		return 0, fmt.Errorf("%s: no peripheral base found", drvRanges)
	}
	return periph + gpioOffset, nil
}
