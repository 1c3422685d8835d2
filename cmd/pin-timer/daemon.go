package main

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/pin-timer/internal/clock"
	"github.com/sweeney/pin-timer/internal/config"
	"github.com/sweeney/pin-timer/internal/gpio"
	"github.com/sweeney/pin-timer/internal/metrics"
	"github.com/sweeney/pin-timer/internal/mqtt"
	"github.com/sweeney/pin-timer/internal/status"
	"github.com/sweeney/pin-timer/internal/timer"
)

const heartbeatJob = "heartbeat"

// daemon wires the scheduler to GPIO, MQTT, metrics and the status tracker.
// Every method runs on the main loop goroutine.
type daemon struct {
	log       zerolog.Logger
	sched     *timer.Scheduler
	pins      gpio.Writer
	publisher mqtt.Publisher
	tracker   *status.Tracker
	metrics   *metrics.Metrics
	now       func() time.Time

	jobs      map[timer.ID]string
	pinsUsed  map[int]bool
	heartbeat timer.ID
	counts    status.Counts
}

type daemonDeps struct {
	Clock     timer.Clock
	Pins      gpio.Writer
	Publisher mqtt.Publisher
	Tracker   *status.Tracker
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
	Now       func() time.Time
}

func newDaemon(cfg *config.Config, deps daemonDeps) (*daemon, error) {
	d := &daemon{
		log:       deps.Log,
		pins:      deps.Pins,
		publisher: deps.Publisher,
		tracker:   deps.Tracker,
		metrics:   deps.Metrics,
		now:       deps.Now,
		jobs:      make(map[timer.ID]string),
		pinsUsed:  make(map[int]bool),
		heartbeat: timer.NotAnEvent,
	}
	if d.now == nil {
		d.now = time.Now
	}

	sched, err := timer.NewSized(cfg.Capacity, deps.Clock, timer.PinWriterFunc(d.writePin),
		timer.WithFireHook(d.onFire),
		timer.WithRetireHook(d.onRetire),
	)
	if err != nil {
		return nil, err
	}
	d.sched = sched
	return d, nil
}

// register claims a slot for every configured job plus the heartbeat.
// A job that finds no free slot is logged and counted; the rest still run.
func (d *daemon) register(cfg *config.Config) {
	if cfg.Heartbeat > 0 {
		d.heartbeat = d.sched.Every(clock.FromDuration(cfg.Heartbeat), d.onHeartbeat, nil)
		if d.heartbeat.Valid() {
			d.jobs[d.heartbeat] = heartbeatJob
		} else {
			d.registrationFailed(heartbeatJob, "every")
		}
	}

	for _, job := range cfg.Jobs {
		period := clock.FromDuration(job.Period)
		pin := timer.Pin(job.Pin)

		id := timer.NoTimerAvailable
		switch job.Kind {
		case config.JobEvery:
			id = d.sched.EveryN(period, d.onJob, job.Repeat, job.Name)
		case config.JobAfter:
			id = d.sched.After(period, d.onJob, job.Name)
		case config.JobOscillate:
			id = d.sched.OscillateN(pin, period, job.Start, job.Repeat)
		case config.JobPulse:
			id = d.sched.Pulse(pin, period, job.Start)
		case config.JobPulseImmediate:
			id = d.sched.PulseImmediate(pin, period, job.Start)
		}

		if !id.Valid() {
			d.registrationFailed(job.Name, string(job.Kind))
			continue
		}
		d.jobs[id] = job.Name
		if job.Kind.Waveform() {
			d.pinsUsed[job.Pin] = true
		}
		d.log.Info().
			Str("job", job.Name).
			Str("kind", string(job.Kind)).
			Int("slot", int(id)).
			Dur("period", job.Period).
			Msg("timer registered")
	}
	d.refresh()
}

func (d *daemon) registrationFailed(job, kind string) {
	d.log.Error().Str("job", job).Str("kind", kind).Msg("no timer slot available")
	d.counts.RegistrationFailures++
	d.metrics.RegistrationFailed(kind)
}

// tick runs one scheduler pass and publishes the resulting state.
func (d *daemon) tick() {
	start := time.Now()
	d.sched.Update()
	d.metrics.ObserveUpdate(time.Since(start).Seconds())
	d.refresh()
}

func (d *daemon) refresh() {
	d.metrics.SetSlots(d.sched.Active(), d.sched.Capacity())
	if d.tracker == nil {
		return
	}
	d.tracker.Update(status.SlotsFrom(d.sched.Slots(), d.jobName), d.counts)
	if cs, ok := d.publisher.(mqtt.ConnectionStatus); ok {
		d.tracker.SetMQTTConnected(cs.IsConnected())
	}
}

func (d *daemon) jobName(id timer.ID) string {
	return d.jobs[id]
}

func (d *daemon) writePin(pin timer.Pin, level timer.Level) {
	if err := d.pins.Set(int(pin), bool(level)); err != nil {
		d.log.Error().Err(err).Int("pin", int(pin)).Stringer("level", level).Msg("gpio write failed")
		d.metrics.PinWriteFailed()
	}
}

func (d *daemon) onJob(ctx any) {
	name, _ := ctx.(string)
	d.log.Debug().Str("job", name).Msg("job fired")
}

func (d *daemon) onHeartbeat(any) {
	d.refresh()
	ev := mqtt.SystemEvent{
		Timestamp: d.now(),
		Event:     "HEARTBEAT",
	}
	if d.tracker != nil {
		if net := readNetworkInfo(); net != nil {
			d.tracker.SetNetwork(net)
		}
		ev.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "HEARTBEAT", "")
	}
	d.log.Info().
		Uint64("fired", d.counts.Fired).
		Uint64("retired", d.counts.Retired).
		Int("active", d.sched.Active()).
		Msg("heartbeat")
	if err := d.publisher.PublishSystem(ev); err != nil {
		d.log.Warn().Err(err).Msg("heartbeat publish error")
	}
}

func (d *daemon) onFire(id timer.ID, info timer.Info) {
	d.counts.Fired++
	d.metrics.Fired(info.Kind)
	if id == d.heartbeat {
		return
	}
	d.publish(id, info, false)
}

func (d *daemon) onRetire(id timer.ID, info timer.Info) {
	d.counts.Retired++
	d.metrics.Retired(info.Kind)
	d.log.Info().Str("job", d.jobs[id]).Int("slot", int(id)).Uint32("count", info.Count).Msg("timer retired")
	d.publish(id, info, true)
	delete(d.jobs, id)
}

func (d *daemon) publish(id timer.ID, info timer.Info, retired bool) {
	ev := mqtt.TimerEvent{
		Timestamp: d.now(),
		Job:       d.jobs[id],
		Kind:      info.Kind.String(),
		Slot:      int(id),
		Count:     info.Count,
		Remaining: info.RepeatCount,
		Retired:   retired,
	}
	if info.Kind == timer.KindOscillate {
		ev.Level = info.PinState.String()
	}
	if d.tracker != nil {
		d.tracker.Record(status.Event{
			Time:    ev.Timestamp,
			Job:     ev.Job,
			Kind:    ev.Kind,
			Slot:    ev.Slot,
			Count:   ev.Count,
			Level:   ev.Level,
			Retired: retired,
		})
	}

	err := d.publisher.Publish(ev)
	switch {
	case err == nil:
	case errors.Is(err, mqtt.ErrDropped):
		d.counts.PublishDropped++
		d.metrics.PublishDropped()
	default:
		d.log.Warn().Err(err).Str("job", ev.Job).Msg("publish error")
	}
}

// shutdown stops every timer, drives waveform pins low and publishes SHUTDOWN.
func (d *daemon) shutdown(reason string) {
	for _, info := range d.sched.Slots() {
		d.sched.Stop(info.ID)
	}
	for pin := range d.pinsUsed {
		d.writePin(timer.Pin(pin), timer.Low)
	}
	d.refresh()

	ev := mqtt.SystemEvent{
		Timestamp: d.now(),
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if d.tracker != nil {
		ev.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", reason)
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		d.log.Warn().Err(err).Msg("failed to publish shutdown event")
	} else {
		d.log.Info().Msg("published shutdown event")
	}
	d.sched.Close()
}
