// Package printer consumes the chat buffer at the pace of actual playback and
// writes messages to the terminal with correct relative timing.
//
// The printer keeps a local estimate of the playback position, advanced by
// real elapsed time while the player is playing and frozen while it is
// paused. The estimate is reconciled against the player's authoritative
// position periodically; a correction larger than the jump threshold is
// treated as a seek and flushes everything queued for printing.
package printer

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/onnwee/vodchat/chatbuf"
	"github.com/onnwee/vodchat/mpv"
	"github.com/onnwee/vodchat/render"
	"github.com/onnwee/vodchat/telemetry"
)

// minResolution batches messages closer together than this into one print
// group, and is the smallest sleep worth performing.
const minResolution = 0.05

// Player is the subset of the mpv client the printer needs.
type Player interface {
	Call(command string, args ...any) (any, error)
	OnEvent(event string, fn mpv.EventHandler) func()
}

// MessageSource is the subset of the chat buffer the printer needs.
type MessageSource interface {
	Get(second int) []*chatbuf.Message
}

// Options tune the printer. Zero values use the defaults (5s sync interval,
// 10s jump threshold, stdout).
type Options struct {
	// SyncInterval is how much estimated playback may elapse between
	// reconciliations against the player's position.
	SyncInterval time.Duration
	// MaxCorrection is the largest correction applied without treating the
	// resync as a discontinuity.
	MaxCorrection time.Duration
	// Out receives all terminal output.
	Out io.Writer
}

// Printer is the playback-synchronized chat printer for one session. Create
// with New, start with Start, and tear down with Stop followed by Wait.
type Printer struct {
	player Player
	chat   MessageSource
	rend   *render.Renderer
	log    *slog.Logger
	out    io.Writer

	syncInterval  float64
	maxCorrection float64

	state     *stateMachine
	resyncNow atomic.Bool
	pos       atomic.Uint64
	done      chan struct{}
}

// New creates a Printer reading from chat and tracking player.
func New(player Player, chat MessageSource, rend *render.Renderer, opts Options) *Printer {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 5 * time.Second
	}
	if opts.MaxCorrection <= 0 {
		opts.MaxCorrection = 10 * time.Second
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Printer{
		player:        player,
		chat:          chat,
		rend:          rend,
		log:           slog.Default().With(slog.String("component", "printer")),
		out:           opts.Out,
		syncInterval:  opts.SyncInterval.Seconds(),
		maxCorrection: opts.MaxCorrection.Seconds(),
		state:         newStateMachine(),
		done:          make(chan struct{}),
	}
}

// Start launches the print loop.
func (p *Printer) Start() {
	go p.run()
}

// Stop requests shutdown and unblocks any in-progress playback sleep.
func (p *Printer) Stop() {
	p.state.set(stateStopped)
}

// Wait blocks until the print loop has exited.
func (p *Printer) Wait() {
	<-p.done
}

// Position returns the printer's current playback position estimate.
func (p *Printer) Position() float64 {
	return math.Float64frombits(p.pos.Load())
}

func (p *Printer) stopped() bool {
	st, _ := p.state.get()
	return st == stateStopped
}

func (p *Printer) run() {
	defer close(p.done)
	offPause := p.player.OnEvent("pause", p.handlePause)
	defer offPause()
	offUnpause := p.player.OnEvent("unpause", p.handleUnpause)
	defer offUnpause()

	if err := p.loop(); err != nil {
		p.log.Error("printer loop failed", slog.Any("err", err))
	}
	// Move off the timestamp line so later output starts clean.
	fmt.Fprintln(p.out)
}

func (p *Printer) loop() error {
	v, err := p.player.Call("get_property", "pause")
	if err != nil {
		return err
	}
	if isTruthy(v) {
		p.state.set(statePaused)
	}

	var pending []*chatbuf.Message // fetched but not yet grouped
	var next []*chatbuf.Message    // the batch due for printing
	current := 0.0                 // estimated playback position, seconds
	lastSync := math.Inf(-1)
	nextRequest := 0

	for !p.stopped() {
		// Reconcile against the player when enough estimated time has passed
		// or an unpause invalidated the last sync.
		if p.resyncNow.Swap(false) || math.Abs(current-lastSync) >= p.syncInterval {
			old := current
			v, err := p.player.Call("get_property", "playback-time")
			if err != nil {
				return err
			}
			current = asFloat(v)
			lastSync = current
			p.pos.Store(math.Float64bits(current))
			if telemetry.PrinterResyncs != nil {
				telemetry.PrinterResyncs.Inc()
			}
			p.log.Debug("resynced playback position",
				slog.String("from", render.FormatTimestampMS(old)),
				slog.String("to", render.FormatTimestampMS(current)))
			if math.Abs(current-old) > p.maxCorrection {
				fmt.Fprintf(p.out, "\rTime changed too much, jumping from %s to %s\n",
					render.FormatTimestampMS(old), render.FormatTimestampMS(current))
				next = nil
				pending = nil
				nextRequest = int(current) - int(p.maxCorrection)
				if telemetry.PrinterJumps != nil {
					telemetry.PrinterJumps.Inc()
				}
			}
		}

		// Group the next batch: the first due message plus everything within
		// the batching resolution of it.
		if len(next) == 0 {
			if !p.fill(&pending, &nextRequest) {
				return nil
			}
			next = append(next, pending[0])
			pending = pending[1:]
			cutoff := math.Max(next[0].Timestamp, current) + minResolution
			for {
				if !p.fill(&pending, &nextRequest) {
					return nil
				}
				if pending[0].Timestamp > cutoff {
					break
				}
				next = append(next, pending[0])
				pending = pending[1:]
			}
		}

		// Sleep until the batch is due or the next whole second, whichever
		// comes first; the whole-second wake keeps the time indicator moving.
		tilNext := next[0].Timestamp - current
		tilSecond := 1 - math.Mod(current, 1)
		if tilSecond < minResolution {
			tilSecond++
		}
		sleep := math.Min(tilNext, tilSecond)
		if sleep >= minResolution {
			if !p.sleepPlayback(sleep) {
				return nil
			}
			current += sleep
			p.pos.Store(math.Float64bits(current))
			p.printTimestamp(current)
			continue
		}

		fmt.Fprint(p.out, "\r")
		for _, m := range next {
			fmt.Fprintln(p.out, p.rend.MessageLine(m.Timestamp, m.Badges, m.Author.Name, m.Color, m.Body))
			if telemetry.MessagesPrinted != nil {
				telemetry.MessagesPrinted.Inc()
			}
		}
		next = nil
		p.printTimestamp(current)
	}
	return nil
}

// fill tops up the pending queue from the buffer, advancing the request
// position one second at a time. Returns false when stopped.
func (p *Printer) fill(pending *[]*chatbuf.Message, nextRequest *int) bool {
	for len(*pending) == 0 {
		if p.stopped() {
			return false
		}
		*pending = append(*pending, p.chat.Get(*nextRequest)...)
		*nextRequest++
	}
	return true
}

func (p *Printer) printTimestamp(current float64) {
	fmt.Fprintf(p.out, "\rVideo time: %s", render.FormatTimestamp(current+minResolution))
}

// sleepPlayback sleeps for the given amount of playback time. While the
// player is paused the remaining timeout is suspended and resumes counting on
// unpause. Returns false if stop was requested.
func (p *Printer) sleepPlayback(seconds float64) bool {
	remaining := time.Duration(seconds * float64(time.Second))
	start := time.Now()
	for remaining >= time.Duration(minResolution*float64(time.Second)) {
		st, changed := p.state.get()
		switch st {
		case stateStopped:
			return false
		case statePaused:
			<-changed
			start = time.Now()
			continue
		}
		select {
		case <-changed:
		case <-time.After(remaining):
		}
		end := time.Now()
		if end.Before(start) {
			// System clock went backwards; no idea how long we slept, call
			// it done rather than looping.
			return !p.stopped()
		}
		remaining -= end.Sub(start)
		start = end
	}
	return !p.stopped()
}

func (p *Printer) handlePause(map[string]any) {
	p.log.Debug("playback paused")
	p.state.set(statePaused)
}

func (p *Printer) handleUnpause(map[string]any) {
	p.log.Debug("playback resumed")
	// Paused time introduces drift; force a resync before resuming pacing.
	p.resyncNow.Store(true)
	p.state.set(statePlaying)
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// isTruthy interprets the player's pause property, which arrives as a JSON
// bool from current mpv but as "yes"/"true" strings from older builds.
func isTruthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "yes" || b == "true"
	}
	return false
}
