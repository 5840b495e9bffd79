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
	"time"

	"golang.org/x/sys/unix"
)

// clockResolution returns the granularity of the monotonic clock.
func clockResolution() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Nanosecond
	}
	if d := time.Duration(ts.Nano()); d > 0 {
		return d
	}
	return time.Nanosecond
}

// LockMemory locks all current and future pages of the process into RAM,
// so that page faults cannot delay a periodic task.
func LockMemory() error {
	return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
}

// SetRealtimePriority moves the calling OS thread to the SCHED_FIFO
// class at prio (1-99). The caller should hold runtime.LockOSThread.
func SetRealtimePriority(prio int) error {
	if prio < 1 || prio > 99 {
		return fmt.Errorf("priority %d out of range", prio)
	}
	attr := unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(prio),
	}
	return unix.SchedSetAttr(0, &attr, 0)
}
