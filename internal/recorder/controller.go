// Package recorder drives the capture loop: it polls the control
// stream for session boundaries, discovers streams, reads pending
// entries, and hands them to a session sink. One Controller owns the
// cursor set, the session state, and the sink; everything runs on the
// single goroutine calling Step, so the core needs no locking.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/streamrec/streamrec/internal/domain"
	"github.com/streamrec/streamrec/internal/match"
	"github.com/streamrec/streamrec/internal/stream"
)

var tracer = otel.Tracer("streamrec/recorder")

// Cataloger indexes closed sessions. Catalog failures must not abort
// a capture whose data is already on disk, so the controller logs and
// drops them.
type Cataloger interface {
	RecordSession(ctx context.Context, s domain.Session, end domain.ID, stats domain.SessionStats) error
}

// Options configures a Controller. All durations follow the config
// schema; see config.Config.
type Options struct {
	ControlKey   string
	FixedStreams []string
	Include      *match.Set // discovery inclusion patterns
	Ignore       *match.Set // discovery ignore patterns

	StreamRefresh  time.Duration
	DataBlock      time.Duration
	WaitBlock      time.Duration
	NoStreamsSleep time.Duration
	DrainTimeout   time.Duration // 0 drains without bound
}

// Controller is the Idle/Recording state machine.
type Controller struct {
	opts    Options
	reader  stream.Reader
	sink    Sink
	catalog Cataloger // may be nil

	session     domain.Session
	cursors     stream.CursorSet
	ctlCursor   stream.CursorSet
	lastRefresh time.Time
}

// NewController returns an idle controller. Fixed streams start at
// "$" (new entries only); the control cursor starts at "0" so a
// recording signaled before process start is still picked up.
func NewController(reader stream.Reader, sink Sink, catalog Cataloger, opts Options) *Controller {
	c := &Controller{
		opts:      opts,
		reader:    reader,
		sink:      sink,
		catalog:   catalog,
		cursors:   make(stream.CursorSet, len(opts.FixedStreams)),
		ctlCursor: stream.CursorSet{opts.ControlKey: stream.TokenStart},
	}
	for _, id := range opts.FixedStreams {
		c.cursors[id] = stream.TokenLatest
	}
	return c
}

// Session returns the current session state.
func (c *Controller) Session() domain.Session {
	return c.session
}

// StartSession signals a session start on the control stream and
// enters it immediately, without waiting for the poll to observe the
// signal. Used when a session name is given at launch.
func (c *Controller) StartSession(ctx context.Context, a stream.Appender, name string) error {
	id, err := a.Append(ctx, c.opts.ControlKey, domain.ID{}, map[string][]byte{
		domain.DataField: []byte(name),
	})
	if err != nil {
		return fmt.Errorf("failed to signal session start: %w", err)
	}

	// Skip our own signal on the next control poll.
	c.ctlCursor[c.opts.ControlKey] = id.String()
	c.applySession(name, id)
	return nil
}

// Step runs one tick of the capture loop: control poll, transition if
// signaled, discovery, one data read, writes. Read and discovery
// errors are plain and the caller may keep ticking; transition and
// sink errors are fatal because retrying them would corrupt the
// boundary or lose entries whose cursors already advanced.
func (c *Controller) Step(ctx context.Context) error {
	// While recording the poll must not block: data is waiting.
	block := c.opts.WaitBlock
	if c.session.Active() {
		block = stream.NoBlock
	}

	batches, ctlNext, err := c.reader.ReadLatest(ctx, c.ctlCursor, block)
	if err != nil {
		return fmt.Errorf("control poll: %w", err)
	}
	c.ctlCursor = ctlNext

	for _, b := range batches {
		if b.Stream != c.opts.ControlKey || len(b.Entries) == 0 {
			continue
		}
		e := b.Entries[len(b.Entries)-1]
		name := string(e.Fields[domain.DataField])
		if name == c.session.Name {
			// Redelivered signal, no transition.
			continue
		}
		if err := c.transition(ctx, name, e.ID); err != nil {
			return fatal(err)
		}
	}

	if !c.session.Active() {
		return nil
	}

	if err := c.refreshStreams(ctx); err != nil {
		return err
	}

	if len(c.cursors) == 0 {
		// Nothing to read yet. The session start id marks where every
		// stream will be picked up, so sleeping loses no data.
		select {
		case <-time.After(c.opts.NoStreamsSleep):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	batches, next, err := c.reader.ReadNext(ctx, c.cursors, c.opts.DataBlock)
	if err != nil {
		return fmt.Errorf("data read: %w", err)
	}
	c.cursors = next

	for _, b := range batches {
		if err := c.sink.EnsureWriter(c.session.Name); err != nil {
			return fatal(err)
		}
		for _, e := range b.Entries {
			if err := c.sink.Write(e); err != nil {
				return fatal(err)
			}
		}
	}
	return nil
}

// transition closes the current session at the boundary and enters
// the new one. The boundary id is the exclusive upper bound of the
// closing session: every tracked stream is drained up to it, the
// sink is flushed and closed, and the cursors are reseeded with only
// the fixed streams positioned at the boundary.
func (c *Controller) transition(ctx context.Context, newName string, boundary domain.ID) error {
	ctx, span := tracer.Start(ctx, "recorder.transition")
	span.SetAttributes(
		attribute.String("session.closing", c.session.Name),
		attribute.String("session.next", newName),
		attribute.String("boundary", boundary.String()),
	)
	defer span.End()

	closing := c.session
	if closing.Active() {
		// Empty sessions still leave a session directory behind.
		if err := c.sink.EnsureWriter(closing.Name); err != nil {
			return err
		}
		if err := c.drain(ctx, boundary); err != nil {
			return err
		}
	}

	stats := c.sink.Stats()
	if err := c.sink.Close(); err != nil {
		return fmt.Errorf("failed to close session %s: %w", closing.Name, err)
	}

	if closing.Active() {
		log.Info().
			Str("session", closing.Name).
			Stringer("start", closing.StartID).
			Stringer("end", boundary).
			Uint64("entries", stats.Entries).
			Uint64("bytes", stats.Bytes).
			Msg("Recording closed")
		if c.catalog != nil {
			if err := c.catalog.RecordSession(ctx, closing, boundary, stats); err != nil {
				log.Warn().Err(err).Str("session", closing.Name).Msg("Failed to catalog session")
			}
		}
	}

	c.applySession(newName, boundary)
	if c.session.Active() {
		log.Info().Str("session", newName).Stringer("start", boundary).Msg("Recording started")
	} else {
		log.Info().Msg("Recording stopped, idle")
	}
	return nil
}

// drain empties every tracked stream up to the boundary. A stream
// leaves the drain set when a round returns nothing for it or when it
// produces its first entry at or past the boundary; that entry opens
// the next session and is not written here. Unbounded by default,
// faithful to reading until the store is quiet; DrainTimeout cuts a
// runaway drain, leaving the rest to the next session's cursors.
func (c *Controller) drain(ctx context.Context, boundary domain.ID) error {
	ctx, span := tracer.Start(ctx, "recorder.drain")
	defer span.End()

	var deadline time.Time
	if c.opts.DrainTimeout > 0 {
		deadline = time.Now().Add(c.opts.DrainTimeout)
	}

	drainSet := c.cursors
	for len(drainSet) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			log.Warn().
				Str("session", c.session.Name).
				Strs("streams", drainSet.Streams()).
				Dur("timeout", c.opts.DrainTimeout).
				Msg("Drain timeout reached, leaving remaining entries to the next session")
			break
		}

		batches, next, err := c.reader.ReadNext(ctx, drainSet, c.opts.DataBlock)
		if err != nil {
			return fmt.Errorf("drain read: %w", err)
		}

		active := make(map[string]bool, len(batches))
		for _, b := range batches {
			active[b.Stream] = true
		}
		for _, b := range batches {
			for _, e := range b.Entries {
				if !e.ID.Before(boundary) {
					delete(active, b.Stream)
					break
				}
				if err := c.sink.Write(e); err != nil {
					return err
				}
			}
		}

		drainSet = make(stream.CursorSet, len(active))
		for id := range active {
			drainSet[id] = next[id]
		}
	}
	return nil
}

// refreshStreams seeds newly discovered streams into the cursor set,
// positioned at the session start so nothing since the boundary is
// missed. Runs only when inclusion patterns exist and the refresh
// interval elapsed; a late refresh is skipped, never queued.
func (c *Controller) refreshStreams(ctx context.Context) error {
	if c.opts.Include == nil || c.opts.Include.Empty() {
		return nil
	}
	now := time.Now()
	if now.Sub(c.lastRefresh) < c.opts.StreamRefresh {
		return nil
	}
	c.lastRefresh = now

	ids, err := c.reader.EnumerateStreams(ctx)
	if err != nil {
		return fmt.Errorf("stream discovery: %w", err)
	}
	for _, id := range ids {
		if _, ok := c.cursors[id]; ok {
			continue
		}
		if id == c.opts.ControlKey || c.opts.Ignore.Match(id) || !c.opts.Include.Match(id) {
			continue
		}
		c.cursors[id] = c.session.StartID.String()
		log.Info().
			Str("stream", id).
			Stringer("from", c.session.StartID).
			Msg("Tracking discovered stream")
	}
	return nil
}

// applySession enters the new session state: cursors are reset to
// only the fixed streams, each positioned at the session start.
// Pattern-discovered streams are dropped until rediscovery.
func (c *Controller) applySession(name string, start domain.ID) {
	c.session = domain.Session{Name: name, StartID: start}
	c.cursors = make(stream.CursorSet, len(c.opts.FixedStreams))
	for _, id := range c.opts.FixedStreams {
		c.cursors[id] = start.String()
	}
}

// CloseSink flushes and closes the sink, ending any open session.
func (c *Controller) CloseSink() error {
	return c.sink.Close()
}

// fatalErr marks errors the loop must not retry past.
type fatalErr struct{ err error }

func (e fatalErr) Error() string { return e.err.Error() }
func (e fatalErr) Unwrap() error { return e.err }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalErr{err: err}
}

// IsFatal reports whether a Step error must stop the loop.
func IsFatal(err error) bool {
	var f fatalErr
	return errors.As(err, &f)
}
