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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtgpio.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	out, in := DefaultConfig.Lines()
	assert.Equal(t, Line(25), out)
	assert.Equal(t, Line(24), in)
	assert.Equal(t, EdgeRising, DefaultConfig.Edge())
	assert.Equal(t, 50*time.Millisecond, DefaultConfig.Interval())
	assert.Equal(t, int64(BCM2708Base), DefaultConfig.BaseAddress())
	require.NoError(t, DefaultConfig.Validate(BCM2835Layout.Lines))

	lc := DefaultConfig.LoopConfig("square", time.Now())
	assert.Equal(t, uint64(40), lc.ReportEvery)
	assert.True(t, lc.Start.IsZero())
}

func TestConfig_builder(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewConfig().Output(16).Input(NoLine, EdgeNone).Period(10 * time.Millisecond).StartDelay(time.Second)
	c.Chip("gpiochip0").Device(DevicePath).UIO("/dev/uio0").Priority(80)
	require.NoError(t, c.Validate(54))
	assert.Equal(t, "gpiochip0", c.ChipName())
	assert.Equal(t, DevicePath, c.DeviceName())
	assert.Equal(t, "/dev/uio0", c.UIODevice())
	assert.Equal(t, 80, c.RealtimePriority())

	lc := c.LoopConfig("drv", now)
	assert.Equal(t, "drv", lc.Name)
	assert.Equal(t, Line(16), lc.Output)
	assert.Equal(t, NoLine, lc.Input)
	assert.Equal(t, now.Add(time.Second), lc.Start)
	assert.Zero(t, lc.ReportEvery)

	cp := c.Copy().Output(17)
	out, _ := c.Lines()
	assert.Equal(t, Line(16), out)
	out, _ = cp.Lines()
	assert.Equal(t, Line(17), out)
}

func TestConfig_validate(t *testing.T) {
	cases := map[string]*Config{
		"output range": NewConfig().Output(54).Period(time.Millisecond),
		"no output":    NewConfig().Period(time.Millisecond),
		"input range":  NewConfig().Output(1).Input(-2, EdgeRising).Period(time.Millisecond),
		"same line":    NewConfig().Output(1).Input(1, EdgeRising).Period(time.Millisecond),
		"edge":         NewConfig().Output(1).Input(2, Edge(9)).Period(time.Millisecond),
		"period":       NewConfig().Output(1),
		"priority":     NewConfig().Output(1).Period(time.Millisecond).Priority(100),
	}
	for name, c := range cases {
		assert.Error(t, c.Validate(54), name)
	}
	assert.ErrorIs(t, NewConfig().Output(1).Validate(54), ErrInvalidPeriod)
	assert.ErrorIs(t, NewConfig().Output(60).Period(1).Validate(54), ErrLineRange)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
output = 16
input = 23
edge = "both"
period = "10ms"
start_delay = "1s"
report = "500ms"
base = 0x3F200000
chip = "gpiochip0"
priority = 50
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)
	out, in := c.Lines()
	assert.Equal(t, Line(16), out)
	assert.Equal(t, Line(23), in)
	assert.Equal(t, EdgeBoth, c.Edge())
	assert.Equal(t, 10*time.Millisecond, c.Interval())
	assert.Equal(t, int64(BCM2709Base), c.BaseAddress())
	assert.Equal(t, "gpiochip0", c.ChipName())
	assert.Equal(t, 50, c.RealtimePriority())
	assert.Equal(t, uint64(50), c.LoopConfig("x", time.Now()).ReportEvery)

	// Defaults are untouched.
	out, _ = DefaultConfig.Lines()
	assert.Equal(t, Line(25), out)
}

func TestLoadConfig_partial(t *testing.T) {
	c, err := LoadConfig(writeConfig(t, "output = 16\n"))
	require.NoError(t, err)
	out, in := c.Lines()
	assert.Equal(t, Line(16), out)
	assert.Equal(t, Line(24), in)
	assert.Equal(t, 50*time.Millisecond, c.Interval())
}

func TestLoadConfig_errors(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "outptu = 16\n"))
	assert.ErrorContains(t, err, "outptu")

	_, err = LoadConfig(writeConfig(t, "edge = \"up\"\n"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "output = [\n"))
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
