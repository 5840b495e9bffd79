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
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Consumer label of lines requested from the GPIO character device.
const consumer = "rtgpio"

// ChipWatcher delivers kernel edge events from one line of a GPIO
// character device to an EdgeSource.
type ChipWatcher struct {
	line *gpiocdev.Line
	src  *EdgeSource
}

// WatchChipLine requests the line of the chip (e.g. "gpiochip0") as an
// input with edge detection matching the polarity of src.
func WatchChipLine(chip string, offset int, src *EdgeSource) (*ChipWatcher, error) {
	var edge gpiocdev.LineReqOption
	switch src.Edge() {
	case EdgeRising:
		edge = gpiocdev.WithRisingEdge
	case EdgeFalling:
		edge = gpiocdev.WithFallingEdge
	case EdgeBoth:
		edge = gpiocdev.WithBothEdges
	default:
		return nil, fmt.Errorf("%s:%d: %w", chip, offset, ErrNoEdgeSource)
	}
	w := &ChipWatcher{src: src}
	l, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		edge,
		gpiocdev.WithEventHandler(w.handler),
		gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("%s:%d: %w", chip, offset, err)
	}
	w.line = l
	return w, nil
}

// handler runs on the gpiocdev event goroutine.
func (w *ChipWatcher) handler(evt gpiocdev.LineEvent) {
	switch evt.Type {
	case gpiocdev.LineEventRisingEdge:
		w.src.Notify(EdgeRising)
	case gpiocdev.LineEventFallingEdge:
		w.src.Notify(EdgeFalling)
	}
}

// Close releases the line.
func (w *ChipWatcher) Close() error {
	return w.line.Close()
}
