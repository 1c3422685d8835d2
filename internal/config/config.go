// Package config loads the daemon's YAML configuration: loop timing,
// scheduler capacity, outer surfaces (MQTT, HTTP) and the timer jobs to
// register at startup.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/pin-timer/internal/gpio"
	"github.com/sweeney/pin-timer/internal/timer"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// JobKind selects which scheduler registration a job maps to.
type JobKind string

const (
	JobEvery          JobKind = "every"
	JobAfter          JobKind = "after"
	JobOscillate      JobKind = "oscillate"
	JobPulse          JobKind = "pulse"
	JobPulseImmediate JobKind = "pulse_immediate"
)

// Waveform reports whether the job drives a pin rather than a callback.
func (k JobKind) Waveform() bool {
	return k == JobOscillate || k == JobPulse || k == JobPulseImmediate
}

func (k JobKind) valid() bool {
	switch k {
	case JobEvery, JobAfter, JobOscillate, JobPulse, JobPulseImmediate:
		return true
	}
	return false
}

// Defaults.
const (
	DefaultPoll        = 5 * time.Millisecond
	DefaultBroker      = "tcp://192.168.1.200:1883"
	DefaultHTTPAddr    = ":80"
	DefaultHeartbeat   = 15 * time.Minute
	DefaultLogLevel    = "info"
	DefaultPublishRate = 20.0
	DefaultGPIOChip    = gpio.DefaultChip
)

// maxPeriod is the longest interval a wrapping 32-bit millisecond counter can measure.
const maxPeriod = time.Duration(1<<32-1) * time.Millisecond

// Config is the validated daemon configuration.
type Config struct {
	Poll        time.Duration
	Capacity    int
	Broker      string
	HTTPAddr    string // empty disables the status server
	Heartbeat   time.Duration
	LogLevel    string
	PublishRate float64 // timer events per second sent to MQTT; 0 = unlimited
	GPIOChip    string
	Jobs        []Job
}

// Job is one timer registered at startup.
type Job struct {
	Name   string
	Kind   JobKind
	Pin    int // waveform jobs only
	Period time.Duration
	Start  timer.Level // waveform jobs only
	Repeat int         // every and oscillate only; timer.Forever for no limit
}

// Slots returns how many scheduler slots the configuration needs:
// one per job plus one for the heartbeat.
func (c *Config) Slots() int {
	n := len(c.Jobs)
	if c.Heartbeat > 0 {
		n++
	}
	return n
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Poll:        DefaultPoll,
		Capacity:    timer.DefaultCapacity,
		Broker:      DefaultBroker,
		HTTPAddr:    DefaultHTTPAddr,
		Heartbeat:   DefaultHeartbeat,
		LogLevel:    DefaultLogLevel,
		PublishRate: DefaultPublishRate,
		GPIOChip:    DefaultGPIOChip,
	}
}

type fileConfig struct {
	Poll        string    `yaml:"poll"`
	Capacity    int       `yaml:"capacity"`
	Broker      string    `yaml:"broker"`
	HTTP        *string   `yaml:"http"`
	Heartbeat   *string   `yaml:"heartbeat"`
	LogLevel    string    `yaml:"log_level"`
	PublishRate *float64  `yaml:"publish_rate"`
	GPIOChip    string    `yaml:"gpio_chip"`
	Jobs        []fileJob `yaml:"jobs,omitempty"`
}

type fileJob struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Pin    *int   `yaml:"pin,omitempty"`
	Period string `yaml:"period"`
	Start  string `yaml:"start,omitempty"`
	Repeat *int   `yaml:"repeat,omitempty"`
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML config data.
func Parse(data []byte) (*Config, error) {
	return Read(bytes.NewReader(data))
}

// Read decodes and validates YAML config from r. Unknown keys are rejected.
func Read(r io.Reader) (*Config, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}

	cfg, err := fc.resolve()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc *fileConfig) resolve() (*Config, error) {
	cfg := Default()

	poll, err := parseDuration("poll", fc.Poll, DefaultPoll)
	if err != nil {
		return nil, err
	}
	cfg.Poll = poll

	if fc.Capacity != 0 {
		cfg.Capacity = fc.Capacity
	}
	if fc.Broker != "" {
		cfg.Broker = fc.Broker
	}
	if fc.HTTP != nil {
		cfg.HTTPAddr = *fc.HTTP
	}
	if fc.Heartbeat != nil {
		// An explicit zero disables the heartbeat.
		hb, err := parseDuration("heartbeat", *fc.Heartbeat, 0)
		if err != nil {
			return nil, err
		}
		cfg.Heartbeat = hb
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.PublishRate != nil {
		cfg.PublishRate = *fc.PublishRate
	}
	if fc.GPIOChip != "" {
		cfg.GPIOChip = fc.GPIOChip
	}

	for i, fj := range fc.Jobs {
		job, err := fj.resolve(fmt.Sprintf("jobs[%d]", i))
		if err != nil {
			return nil, err
		}
		cfg.Jobs = append(cfg.Jobs, job)
	}
	return cfg, nil
}

func (fj fileJob) resolve(path string) (Job, error) {
	job := Job{
		Name:   strings.TrimSpace(fj.Name),
		Kind:   JobKind(strings.ToLower(strings.TrimSpace(fj.Kind))),
		Pin:    -1,
		Repeat: timer.Forever,
	}

	period, err := parseDuration(path+".period", fj.Period, 0)
	if err != nil {
		return Job{}, err
	}
	job.Period = period

	if fj.Pin != nil {
		job.Pin = *fj.Pin
	}
	if fj.Repeat != nil {
		job.Repeat = *fj.Repeat
	}

	switch strings.ToLower(strings.TrimSpace(fj.Start)) {
	case "", "low", "0", "off":
		job.Start = timer.Low
	case "high", "1", "on":
		job.Start = timer.High
	default:
		return Job{}, fmt.Errorf("%w: %s.start: unknown level %q", ErrInvalid, path, fj.Start)
	}
	return job, nil
}

// Marshal renders c back into the YAML file format.
func (c *Config) Marshal() ([]byte, error) {
	httpAddr := c.HTTPAddr
	heartbeat := c.Heartbeat.String()
	rate := c.PublishRate
	fc := fileConfig{
		Poll:        c.Poll.String(),
		Capacity:    c.Capacity,
		Broker:      c.Broker,
		HTTP:        &httpAddr,
		Heartbeat:   &heartbeat,
		LogLevel:    c.LogLevel,
		PublishRate: &rate,
		GPIOChip:    c.GPIOChip,
	}
	for _, j := range c.Jobs {
		fj := fileJob{
			Name:   j.Name,
			Kind:   string(j.Kind),
			Period: j.Period.String(),
		}
		if j.Kind.Waveform() {
			pin := j.Pin
			fj.Pin = &pin
			fj.Start = strings.ToLower(j.Start.String())
		}
		if j.Kind == JobEvery || j.Kind == JobOscillate {
			repeat := j.Repeat
			fj.Repeat = &repeat
		}
		fc.Jobs = append(fc.Jobs, fj)
	}

	out, err := yaml.Marshal(&fc)
	if err != nil {
		return nil, fmt.Errorf("yaml encode: %w", err)
	}
	return out, nil
}

// parseDuration parses a Go duration string; empty yields def.
func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: invalid duration %q: %v", ErrInvalid, path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s: duration must be >= 0", ErrInvalid, path)
	}
	return d, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Poll <= 0 {
		return fmt.Errorf("%w: poll must be > 0", ErrInvalid)
	}
	if c.Capacity < 1 || c.Capacity > timer.MaxCapacity {
		return fmt.Errorf("%w: capacity %d out of range 1..%d", ErrInvalid, c.Capacity, timer.MaxCapacity)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("%w: heartbeat must be >= 0", ErrInvalid)
	}
	if c.Heartbeat > 0 && c.Heartbeat < time.Millisecond {
		return fmt.Errorf("%w: heartbeat must be >= 1ms", ErrInvalid)
	}
	if c.Heartbeat%time.Millisecond != 0 {
		return fmt.Errorf("%w: heartbeat %v is not a whole number of milliseconds", ErrInvalid, c.Heartbeat)
	}
	if c.Heartbeat > maxPeriod {
		return fmt.Errorf("%w: heartbeat %v exceeds %v", ErrInvalid, c.Heartbeat, maxPeriod)
	}
	if c.PublishRate < 0 {
		return fmt.Errorf("%w: publish_rate must be >= 0", ErrInvalid)
	}
	if c.Slots() > c.Capacity {
		return fmt.Errorf("%w: %d jobs need %d slots, capacity is %d", ErrInvalid, len(c.Jobs), c.Slots(), c.Capacity)
	}

	names := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		if j.Name == "" {
			return fmt.Errorf("%w: %s: name is required", ErrInvalid, path)
		}
		if names[j.Name] {
			return fmt.Errorf("%w: %s: duplicate name %q", ErrInvalid, path, j.Name)
		}
		names[j.Name] = true

		if !j.Kind.valid() {
			return fmt.Errorf("%w: %s (%s): unknown kind %q", ErrInvalid, path, j.Name, j.Kind)
		}
		if j.Period < time.Millisecond {
			return fmt.Errorf("%w: %s (%s): period must be >= 1ms", ErrInvalid, path, j.Name)
		}
		if j.Period%time.Millisecond != 0 {
			return fmt.Errorf("%w: %s (%s): period %v is not a whole number of milliseconds", ErrInvalid, path, j.Name, j.Period)
		}
		if j.Period > maxPeriod {
			return fmt.Errorf("%w: %s (%s): period %v exceeds %v", ErrInvalid, path, j.Name, j.Period, maxPeriod)
		}
		if j.Kind.Waveform() && j.Pin < 0 {
			return fmt.Errorf("%w: %s (%s): %s needs a pin", ErrInvalid, path, j.Name, j.Kind)
		}
		if (j.Kind == JobEvery || j.Kind == JobOscillate) && (j.Repeat == 0 || j.Repeat < timer.Forever) {
			return fmt.Errorf("%w: %s (%s): repeat must be >= 1 or -1 for forever", ErrInvalid, path, j.Name)
		}
		if !j.Kind.Waveform() && j.Pin >= 0 {
			return fmt.Errorf("%w: %s (%s): %s does not drive a pin", ErrInvalid, path, j.Name, j.Kind)
		}
	}
	return nil
}
