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
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// EmulateEdges signals src every interval until ctx is done, standing in
// for an interrupt source on systems without one. It returns the number
// of edges generated.
func EmulateEdges(ctx context.Context, clk clock.Clock, interval time.Duration, src *EdgeSource) int {
	if clk == nil {
		clk = clock.New()
	}
	t := clk.Ticker(interval)
	defer t.Stop()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case <-t.C:
			src.Signal()
			n++
		}
	}
}
