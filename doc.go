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

/*

Package rtgpio drives the GPIO lines of the Broadcom SoC used on the Raspberry Pi
from periodic real-time tasks, by mapping the GPIO register block into the process.

A Port owns the mapped register block. Lines are driven through the dedicated set
and clear registers, so that two tasks on disjoint lines never need a lock.
A Controller validates and issues line commands against the Port, and
an EdgeSource counts input edges delivered from interrupt context, from
the kernel GPIO character device, from a uio device, or from a timer emulating one.

A Scheduler creates periodic Tasks. A missed period is never replayed; the task
resynchronises to the next boundary and reports how many were missed.
A Loop combines these to produce a square wave whose rate is halved and restored
by edges on an input line.

The Dispatcher exposes the Controller as an opcode driven control surface that
may be registered under a device name.

A SimBank stands in for the hardware, so that all of the above can run on any host.

Complete documentation is available via https://github.com/aamcrae/rtgpio, and through godoc at
https://godoc.org/github.com/aamcrae/rtgpio

*/
package rtgpio
