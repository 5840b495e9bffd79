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
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config contains the line and timing configuration of a control loop.
// A configuration is built through config methods on this structure e.g:
//
//	c := NewConfig()
//	c.Output(16).Input(24, EdgeRising)
//	c.Period(10 * time.Millisecond).Report(2 * time.Second)
//	loop, err := NewLoop(ctl, sched, c.LoopConfig("square", time.Now()))
type Config struct {
	output     Line
	input      Line
	edge       Edge
	period     time.Duration
	startDelay time.Duration
	report     time.Duration
	base       int64
	chip       string
	device     string
	uio        string
	priority   int
}

// The default config.
// The default configuration drives line 25 and counts rising edges on
// line 24, with a 50ms period and a drift report every 2 seconds, using
// the BCM2835 register block.
//
// Before use, this may be modified e.g
// DefaultConfig.Output(16).Period(time.Millisecond)
var DefaultConfig *Config

func init() {
	DefaultConfig = NewConfig()
	DefaultConfig.Output(25).Input(24, EdgeRising)
	DefaultConfig.Period(50 * time.Millisecond).Report(2 * time.Second)
	DefaultConfig.Base(BCM2708Base)
}

// NewConfig creates an empty Config.
func NewConfig() *Config {
	c := new(Config)
	c.Clear()
	return c
}

// Clear resets the configuration
func (c *Config) Clear() *Config {
	*c = Config{output: NoLine, input: NoLine}
	return c
}

// Copy returns an independent copy of the configuration.
func (c *Config) Copy() *Config {
	n := *c
	return &n
}

// Output selects the line driven by the loop.
func (c *Config) Output(l Line) *Config {
	c.output = l
	return c
}

// Input selects the line whose edges are counted, and the edge polarity.
// NoLine disables edge handling.
func (c *Config) Input(l Line, e Edge) *Config {
	c.input = l
	c.edge = e
	return c
}

// Period sets the time between output transitions.
func (c *Config) Period(d time.Duration) *Config {
	c.period = d
	return c
}

// StartDelay delays the first period boundary, allowing the process to
// settle before the first activation.
func (c *Config) StartDelay(d time.Duration) *Config {
	c.startDelay = d
	return c
}

// Report sets the interval between drift reports. Zero disables them.
func (c *Config) Report(d time.Duration) *Config {
	c.report = d
	return c
}

// Base sets the physical base address of the register block.
func (c *Config) Base(b int64) *Config {
	c.base = b
	return c
}

// Chip names the GPIO character device used for kernel edge events.
func (c *Config) Chip(name string) *Config {
	c.chip = name
	return c
}

// Device overrides the register device file, or names the control
// surface for programs using a Dispatcher.
func (c *Config) Device(path string) *Config {
	c.device = path
	return c
}

// UIO names a /dev/uioN interrupt device used for edge events.
func (c *Config) UIO(path string) *Config {
	c.uio = path
	return c
}

// Priority sets the SCHED_FIFO priority of the loop. Zero leaves the
// loop at normal priority.
func (c *Config) Priority(p int) *Config {
	c.priority = p
	return c
}

// Lines returns the output and input lines.
func (c *Config) Lines() (Line, Line) {
	return c.output, c.input
}

// Edge returns the input edge polarity.
func (c *Config) Edge() Edge {
	return c.edge
}

// Interval returns the configured period.
func (c *Config) Interval() time.Duration {
	return c.period
}

// BaseAddress returns the register block base address.
func (c *Config) BaseAddress() int64 {
	return c.base
}

// ChipName returns the GPIO character device name.
func (c *Config) ChipName() string {
	return c.chip
}

// DeviceName returns the device override.
func (c *Config) DeviceName() string {
	return c.device
}

// UIODevice returns the uio interrupt device.
func (c *Config) UIODevice() string {
	return c.uio
}

// RealtimePriority returns the SCHED_FIFO priority, or 0.
func (c *Config) RealtimePriority() int {
	return c.priority
}

// Validate checks the configuration against a block of the given
// number of lines.
func (c *Config) Validate(lines int) error {
	if c.output < 0 || int(c.output) >= lines {
		return fmt.Errorf("output line %d: %w", c.output, ErrLineRange)
	}
	if c.input != NoLine {
		if c.input < 0 || int(c.input) >= lines {
			return fmt.Errorf("input line %d: %w", c.input, ErrLineRange)
		}
		if c.input == c.output {
			return fmt.Errorf("input and output both on line %d", c.input)
		}
	}
	if c.edge < EdgeNone || c.edge > EdgeBoth {
		return fmt.Errorf("unknown edge %v", c.edge)
	}
	if c.period <= 0 {
		return fmt.Errorf("period %v: %w", c.period, ErrInvalidPeriod)
	}
	if c.report < 0 || c.startDelay < 0 {
		return fmt.Errorf("negative report or start delay")
	}
	if c.priority < 0 || c.priority > 99 {
		return fmt.Errorf("priority %d out of range", c.priority)
	}
	return nil
}

// LoopConfig converts the configuration into a LoopConfig, with the first
// boundary placed relative to now.
func (c *Config) LoopConfig(name string, now time.Time) LoopConfig {
	lc := LoopConfig{
		Name:   name,
		Output: c.output,
		Input:  c.input,
		Period: c.period,
	}
	if c.startDelay > 0 {
		lc.Start = now.Add(c.startDelay)
	}
	if c.report > 0 && c.period > 0 {
		lc.ReportEvery = uint64(c.report / c.period)
		if lc.ReportEvery == 0 {
			lc.ReportEvery = 1
		}
	}
	return lc
}

// fileConfig is the TOML form of a Config.
type fileConfig struct {
	Output     int           `toml:"output"`
	Input      int           `toml:"input"`
	Edge       string        `toml:"edge"`
	Period     time.Duration `toml:"period"`
	StartDelay time.Duration `toml:"start_delay"`
	Report     time.Duration `toml:"report"`
	Base       int64         `toml:"base"`
	Chip       string        `toml:"chip"`
	Device     string        `toml:"device"`
	UIO        string        `toml:"uio"`
	Priority   int           `toml:"priority"`
}

// LoadConfig reads a TOML file over a copy of DefaultConfig e.g
//
//	output = 16
//	input = 24
//	edge = "rising"
//	period = "10ms"
//	base = 0x3F200000
//
// Keys that are not recognised are an error.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig.Copy()
	f := fileConfig{
		Output:     int(c.output),
		Input:      int(c.input),
		Edge:       c.edge.String(),
		Period:     c.period,
		StartDelay: c.startDelay,
		Report:     c.report,
		Base:       c.base,
		Chip:       c.chip,
		Device:     c.device,
		UIO:        c.uio,
		Priority:   c.priority,
	}
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, err
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		var names []string
		for _, k := range keys {
			names = append(names, k.String())
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(names, ", "))
	}
	e, err := ParseEdge(f.Edge)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	c.Output(Line(f.Output)).Input(Line(f.Input), e)
	c.Period(f.Period).StartDelay(f.StartDelay).Report(f.Report)
	c.Base(f.Base).Chip(f.Chip).Device(f.Device).UIO(f.UIO).Priority(f.Priority)
	return c, nil
}
