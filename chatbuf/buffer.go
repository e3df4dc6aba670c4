// Package chatbuf maintains a sliding window of VOD chat messages around the
// current playback position, backed by lazy fetches from the paginated
// comments API.
//
// The buffer holds messages in timestamp order plus an index from integer
// second to the contiguous range of messages at that second. Get is the only
// blocking entry point: a lookup outside the loaded range records the new
// position, wakes the background fetch loop, and waits until coverage is
// extended (or the buffer is stopped). The index is rebuilt from scratch after
// every mutation; at the bounded window sizes involved that is cheaper to
// reason about than incremental maintenance.
package chatbuf

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/vodchat/render"
	"github.com/onnwee/vodchat/telemetry"
	"github.com/onnwee/vodchat/twitchapi"
)

// EndOfStream marks loaded_range.hi once the API reports no further pages.
// It compares greater than any real playback offset.
const EndOfStream = math.MaxInt32

// idleWait is how long the fetch loop sleeps between unforced checks.
const idleWait = 30 * time.Second

// pagePacing is the fixed delay between consecutive page requests.
const pagePacing = 100 * time.Millisecond

// Source provides paginated chat history pages for one VOD.
type Source interface {
	ByOffset(ctx context.Context, offsetSeconds int) (*twitchapi.CommentsPage, error)
	ByCursor(ctx context.Context, cursor string) (*twitchapi.CommentsPage, error)
}

// Options tune the buffer window. Zero values fall back to the defaults used
// by the original tuning (30s threshold, 500 behind, 1000 ahead).
type Options struct {
	// LoadMoreThreshold is how close (seconds) the requested position may get
	// to the top of the loaded range before more data is fetched.
	LoadMoreThreshold int
	// KeepBehind is the number of messages kept before the current position.
	KeepBehind int
	// LoadAhead is the target number of messages after the current position.
	LoadAhead int
}

func (o Options) withDefaults() Options {
	if o.LoadMoreThreshold <= 0 {
		o.LoadMoreThreshold = 30
	}
	if o.KeepBehind <= 0 {
		o.KeepBehind = 500
	}
	if o.LoadAhead <= 0 {
		o.LoadAhead = 1000
	}
	return o
}

type sliceRange struct {
	first, last int
}

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	Messages      int  `json:"messages"`
	Authors       int  `json:"authors"`
	RangeLo       int  `json:"range_lo"`
	RangeHi       int  `json:"range_hi"`
	EndOfStream   bool `json:"end_of_stream"`
	LastRequested int  `json:"last_requested"`
}

// Buffer is the chat buffer engine for one VOD session. Create with New,
// start the fetch loop with Start, and tear down with Stop followed by Wait.
type Buffer struct {
	source Source
	reg    *authorRegistry
	rend   *render.Renderer
	opts   Options
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	mu            sync.Mutex
	dataLoaded    *sync.Cond
	messages      []*Message
	slices        map[int]sliceRange
	rangeLo       int
	rangeHi       int
	lastRequested int
	stopping      bool
}

// New creates a Buffer anchored at the given start position (seconds).
func New(source Source, rend *render.Renderer, start int, opts Options) *Buffer {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Buffer{
		source:        source,
		reg:           newAuthorRegistry(),
		rend:          rend,
		opts:          opts.withDefaults(),
		log:           slog.Default().With(slog.String("component", "chatbuf")),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		wake:          make(chan struct{}, 1),
		slices:        make(map[int]sliceRange),
		rangeLo:       -1,
		rangeHi:       -1,
		lastRequested: start,
	}
	b.dataLoaded = sync.NewCond(&b.mu)
	return b
}

// Start launches the background fetch loop.
func (b *Buffer) Start() {
	go b.run()
}

// Stop requests shutdown and unblocks any caller waiting in Get.
func (b *Buffer) Stop() {
	b.mu.Lock()
	b.stopping = true
	b.mu.Unlock()
	b.cancel()
	b.dataLoaded.Broadcast()
	b.wakeLoop()
}

// Wait blocks until the fetch loop has exited.
func (b *Buffer) Wait() {
	<-b.done
}

func (b *Buffer) isStopping() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopping
}

func (b *Buffer) run() {
	defer close(b.done)
	for {
		if b.isStopping() {
			return
		}
		b.mu.Lock()
		// A position behind the loaded range needs a pass just as much as one
		// near the top: loadMore clears and refetches from the new anchor.
		need := b.lastRequested+b.opts.LoadMoreThreshold >= b.rangeHi ||
			b.lastRequested < b.rangeLo
		b.mu.Unlock()
		if need {
			if err := b.loadMore(); err != nil && !b.isStopping() {
				// Not retried within this cycle; the next pass re-attempts.
				b.log.Error("chat fetch pass failed", slog.Any("err", err))
				if telemetry.FetchErrors != nil {
					telemetry.FetchErrors.Inc()
				}
			}
		}
		if b.isStopping() {
			return
		}
		select {
		case <-b.wake:
		case <-time.After(idleWait):
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Buffer) wakeLoop() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// coversLocked reports whether second lies inside the loaded range.
func (b *Buffer) coversLocked(second int) bool {
	return second >= b.rangeLo && second <= b.rangeHi
}

// Get returns the messages whose floor timestamp equals second. If the second
// is outside the loaded range it records the new position, wakes the fetch
// loop, and blocks until the range covers it or Stop is called. A covered
// second with no messages returns an empty result without blocking.
func (b *Buffer) Get(second int) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.coversLocked(second) {
		b.log.Info("requested position outside loaded range",
			slog.String("requested", render.FormatTimestamp(float64(second))),
			slog.Int("range_lo", b.rangeLo), slog.Int("range_hi", b.rangeHi))
		b.lastRequested = second
		b.wakeLoop()
		for !b.coversLocked(second) && !b.stopping {
			b.dataLoaded.Wait()
		}
		if b.stopping && !b.coversLocked(second) {
			return nil
		}
	}
	sl, ok := b.slices[second]
	if !ok {
		return nil
	}
	out := make([]*Message, sl.last-sl.first+1)
	copy(out, b.messages[sl.first:sl.last+1])
	return out
}

// Stats returns a snapshot of the buffer state.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Messages:      len(b.messages),
		Authors:       b.reg.size(),
		RangeLo:       b.rangeLo,
		RangeHi:       b.rangeHi,
		EndOfStream:   b.rangeHi == EndOfStream,
		LastRequested: b.lastRequested,
	}
}

// nextIndexLocked returns the message index where the given second starts,
// falling back to the smallest indexed second strictly greater than it, or
// the end of the list when nothing lies ahead.
func (b *Buffer) nextIndexLocked(second int) int {
	if len(b.slices) == 0 {
		return 0
	}
	if sl, ok := b.slices[second]; ok {
		return sl.first
	}
	next := -1
	for t := range b.slices {
		if t > second && (next < 0 || t < next) {
			next = t
		}
	}
	if next < 0 {
		return len(b.messages)
	}
	return b.slices[next].first
}

// rebuildIndexLocked rescans the message list and recomputes the time slices
// and the loaded range. The top of the range is the highest indexed second
// minus one: there is no guarantee the final second is complete yet.
func (b *Buffer) rebuildIndexLocked() {
	b.slices = make(map[int]sliceRange)
	if len(b.messages) == 0 {
		b.rangeLo, b.rangeHi = -1, -1
		return
	}
	start := 0
	cur := int(b.messages[0].Timestamp)
	for i, m := range b.messages[1:] {
		ts := int(m.Timestamp)
		if ts != cur {
			b.slices[cur] = sliceRange{first: start, last: i}
			start = i + 1
			cur = ts
		}
	}
	b.slices[cur] = sliceRange{first: start, last: len(b.messages) - 1}

	lo := b.lastRequested
	hi := -1
	for t := range b.slices {
		if t < lo {
			lo = t
		}
		if t > hi {
			hi = t
		}
	}
	b.rangeLo = lo
	b.rangeHi = hi - 1
}

// clearLocked discards the whole buffer, releasing all interned authors.
func (b *Buffer) clearLocked() {
	for _, m := range b.messages {
		b.reg.release(m.Author)
	}
	b.messages = nil
	b.slices = make(map[int]sliceRange)
	b.rangeLo, b.rangeHi = -1, -1
	telemetry.SetBufferSize(0)
}

// trimLocked drops messages that are no longer relevant to the current
// position. A position behind the loaded range forces a full reload; this is
// deliberately simple and re-fetches more than strictly necessary on small
// backward jumps.
func (b *Buffer) trimLocked() {
	if b.lastRequested < b.rangeLo {
		b.log.Info("position moved behind loaded range, clearing buffer",
			slog.Int("last_requested", b.lastRequested), slog.Int("range_lo", b.rangeLo))
		b.clearLocked()
		return
	}
	drop := b.nextIndexLocked(b.lastRequested) - b.opts.KeepBehind
	if drop <= 0 {
		return
	}
	for _, m := range b.messages[:drop] {
		b.reg.release(m.Author)
	}
	kept := make([]*Message, len(b.messages)-drop)
	copy(kept, b.messages[drop:])
	b.messages = kept
	b.rebuildIndexLocked()
	telemetry.SetBufferSize(len(b.messages))
	if telemetry.BufferTrims != nil {
		telemetry.BufferTrims.Inc()
	}
	b.log.Debug("trimmed old messages", slog.Int("dropped", drop), slog.Int("kept", len(b.messages)))
}

// ingest converts a page of comments, drops duplicate leading messages from
// overlapping pages, appends, and rebuilds the index. Every ingestion wakes
// blocked lookups.
func (b *Buffer) ingest(comments []twitchapi.Comment) {
	if len(comments) == 0 {
		return
	}
	msgs := make([]*Message, 0, len(comments))
	for _, c := range comments {
		msgs = append(msgs, newMessage(c, b.reg, b.rend))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) > 0 && msgs[0].Timestamp < b.messages[len(b.messages)-1].Timestamp {
		// The API returns some already-known messages, at least on the first
		// page after an offset query. Scan for the last known message and drop
		// everything up to and including it.
		lastKnown := b.messages[len(b.messages)-1]
		found := false
		for i, m := range msgs {
			if m.ID == lastKnown.ID {
				for _, dup := range msgs[:i+1] {
					b.reg.release(dup.Author)
				}
				msgs = msgs[i+1:]
				found = true
				break
			}
		}
		if !found {
			// Documented fallback: keep everything. Rare pagination behavior
			// can retain duplicates here.
			b.log.Warn("last known message not found in overlapping page, keeping all messages")
		}
	}
	b.messages = append(b.messages, msgs...)
	b.rebuildIndexLocked()
	telemetry.SetBufferSize(len(b.messages))
	b.dataLoaded.Broadcast()
}

// loadMore runs one fetch pass: an offset-anchored first page followed by
// cursor continuations until the window target is met, the cursor is
// exhausted, or stop is requested.
func (b *Buffer) loadMore() error {
	ctx := telemetry.WithCorrelation(b.ctx, uuid.New().String())
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chatbuf"))
	ctx, span := telemetry.StartSpan(ctx, "chatbuf", "fetch-pass")
	defer span.End()

	start := time.Now()
	defer func() {
		if telemetry.FetchPassDuration != nil {
			telemetry.FetchPassDuration.Observe(time.Since(start).Seconds())
		}
	}()

	b.mu.Lock()
	if b.lastRequested < b.rangeLo {
		b.clearLocked()
	}
	ahead := len(b.messages) - b.nextIndexLocked(b.lastRequested)
	if ahead < 0 {
		ahead = 0
	}
	toLoad := b.opts.LoadAhead - ahead
	anchor := b.lastRequested
	if b.rangeHi+1 > anchor {
		anchor = b.rangeHi + 1
	}
	b.mu.Unlock()

	log.Debug("starting fetch pass", slog.Int("anchor", anchor), slog.Int("to_load", toLoad))
	page, err := b.source.ByOffset(ctx, anchor)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if telemetry.PagesFetched != nil {
		telemetry.PagesFetched.Inc()
	}
	toLoad -= len(page.Comments)
	b.ingest(page.Comments)

	cursor := page.Next
	for cursor != "" && toLoad > 0 && !b.isStopping() {
		select {
		case <-time.After(pagePacing):
		case <-b.ctx.Done():
			return nil
		}
		page, err = b.source.ByCursor(ctx, cursor)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		if telemetry.PagesFetched != nil {
			telemetry.PagesFetched.Inc()
		}
		toLoad -= len(page.Comments)
		b.ingest(page.Comments)
		cursor = page.Next
	}

	b.mu.Lock()
	b.trimLocked()
	if cursor == "" && !b.isStoppingLocked() {
		// Cursor exhausted: all remaining chat is loaded, the range stretches
		// to the end of the video.
		b.rangeHi = EndOfStream
		b.dataLoaded.Broadcast()
	}
	covered := b.rangeHi - b.lastRequested
	threshold := b.opts.LoadMoreThreshold
	b.mu.Unlock()
	if covered < threshold {
		log.Warn("chat source slower than playback",
			slog.Int("covered_ahead", covered), slog.Int("threshold", threshold))
	}
	log.Debug("finished fetch pass")
	return nil
}

func (b *Buffer) isStoppingLocked() bool {
	return b.stopping
}
