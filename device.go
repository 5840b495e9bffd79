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
	"os"
	"sort"
	"sync"
)

// DevicePath is the conventional name of the GPIO control surface.
const DevicePath = "/dev/rpi_gpio"

// Registered control surfaces, by name.
var (
	devMu   sync.Mutex
	devices = make(map[string]*Dispatcher)
)

// RegisterDevice binds a dispatcher to a name. Only the first successful
// registration of a name takes effect; later ones return nil and leave
// the original binding in place.
func RegisterDevice(name string, d *Dispatcher) error {
	if name == "" {
		return fmt.Errorf("empty device name")
	}
	if d == nil {
		return fmt.Errorf("%s: nil dispatcher", name)
	}
	devMu.Lock()
	defer devMu.Unlock()
	if _, ok := devices[name]; !ok {
		devices[name] = d
	}
	return nil
}

// OpenDevice returns the dispatcher registered under name.
func OpenDevice(name string) (*Dispatcher, error) {
	devMu.Lock()
	defer devMu.Unlock()
	d, ok := devices[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	return d, nil
}

// Devices returns the registered names in order.
func Devices() []string {
	devMu.Lock()
	defer devMu.Unlock()
	names := make([]string, 0, len(devices))
	for n := range devices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
