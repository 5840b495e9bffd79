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
	"errors"
	"fmt"
)

var (
	// Line misuse
	ErrWrongDirection = errors.New("wrong direction")
	ErrLineRange      = errors.New("line out of range")
	ErrNoEdgeSource   = errors.New("no edge source")

	// Suspension points
	ErrTimeout   = errors.New("timeout")
	ErrCancelled = errors.New("cancelled")

	// Control surface
	ErrUnsupportedCommand = errors.New("unsupported command")

	// Configuration and lifecycle
	ErrInvalidPeriod     = errors.New("invalid period")
	ErrAlreadyMapped     = errors.New("already mapped")
	ErrClosed            = errors.New("closed")
	ErrHandlerRegistered = errors.New("handler registered")
)

// MapError reports a register window that could not be reserved.
// It is fatal to startup.
type MapError struct {
	Base   int64
	Length int
	Err    error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("map 0x%08x (+0x%x): %v", e.Base, e.Length, e.Err)
}

func (e *MapError) Unwrap() error { return e.Err }

// lineError annotates err with the line it applies to.
func lineError(op string, l Line, err error) error {
	return fmt.Errorf("%s line %d: %w", op, l, err)
}
