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

//go:build !linux

package rtgpio

import (
	"errors"
	"time"
)

var errNotLinux = errors.New("register mapping requires linux")

func mapDevice(c *portConfig, base int64, length int) (Mapping, error) {
	return nil, errNotLinux
}

// DetectBase is only supported on linux.
func DetectBase() (int64, error) {
	return 0, errNotLinux
}

func clockResolution() time.Duration {
	return time.Nanosecond
}

// LockMemory is a no-op outside linux.
func LockMemory() error {
	return nil
}

// SetRealtimePriority is only supported on linux.
func SetRealtimePriority(prio int) error {
	return errNotLinux
}
