// Package live prints chat for a live twitch.tv channel over IRC.
//
// It is the fallback path when the player is showing a live stream rather
// than a VOD: there is no replay API to page through, so messages are printed
// as they arrive, through the same renderer the replay printer uses. The
// connection is anonymous (read-only); no credentials are required.
package live

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/vodchat/render"
	"github.com/onnwee/vodchat/telemetry"
)

// Printer prints live chat for one channel. Create with New, start with
// Start, tear down with Stop followed by Wait.
type Printer struct {
	channel string
	rend    *render.Renderer
	out     io.Writer
	log     *slog.Logger

	client *twitch.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a live chat printer for the given channel login. A nil out
// writes to stdout.
func New(channel string, rend *render.Renderer, out io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	return &Printer{
		channel: channel,
		rend:    rend,
		out:     out,
		log:     slog.Default().With(slog.String("component", "live"), slog.String("channel", channel)),
		done:    make(chan struct{}),
	}
}

// Start connects to IRC on its own goroutine and begins printing.
func (p *Printer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.client = twitch.NewAnonymousClient()

	startedAt := time.Now()
	p.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		offset := time.Since(startedAt).Seconds()
		badges := make([]string, 0, len(msg.User.Badges))
		for id := range msg.User.Badges {
			badges = append(badges, id)
		}
		line := p.rend.MessageLine(offset, p.rend.Badges(badges), msg.User.DisplayName,
			p.rend.ShiftHex(msg.User.Color), msg.Message)
		fmt.Fprintln(p.out, line)
		if telemetry.MessagesPrinted != nil {
			telemetry.MessagesPrinted.Inc()
		}
	})

	go func() {
		<-ctx.Done()
		if err := p.client.Disconnect(); err != nil {
			p.log.Debug("irc disconnect", slog.Any("err", err))
		}
	}()

	go func() {
		defer close(p.done)
		p.client.Join(p.channel)
		p.log.Info("joining live chat")
		if err := p.client.Connect(); err != nil && ctx.Err() == nil {
			p.log.Error("irc connect error", slog.Any("err", err))
		}
	}()
}

// Stop disconnects from IRC.
func (p *Printer) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until the IRC goroutine has exited.
func (p *Printer) Wait() {
	<-p.done
}
