package coro

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

// Event is this runtime's logiface.Event implementation: a flat field map
// plus level and message, written out by textWriter as a single line. It
// embeds logiface.UnimplementedEvent per that package's contract, and
// overrides only the methods that are worth a direct field rather than a
// boxed AddField call.
type Event struct {
	logiface.UnimplementedEvent
	level   logiface.Level
	message string
	err     error
	fields  []field
}

type field struct {
	key string
	val any
}

func (e *Event) Level() logiface.Level { return e.level }

func (e *Event) AddField(key string, val any) {
	e.fields = append(e.fields, field{key, val})
}

func (e *Event) AddMessage(msg string) bool {
	e.message = msg
	return true
}

func (e *Event) AddError(err error) bool {
	e.err = err
	return true
}

func (e *Event) AddString(key, val string) bool {
	e.AddField(key, val)
	return true
}

func (e *Event) reset() {
	e.level = logiface.LevelDisabled
	e.message = ""
	e.err = nil
	e.fields = e.fields[:0]
}

var eventPool = sync.Pool{New: func() any { return new(Event) }}

type eventFactory struct{}

func (eventFactory) NewEvent(level logiface.Level) *Event {
	e := eventPool.Get().(*Event)
	e.reset()
	e.level = level
	return e
}

type eventReleaser struct{}

func (eventReleaser) ReleaseEvent(e *Event) { eventPool.Put(e) }

// textWriter renders Event values as a single human-readable line. It is
// the runtime's built-in low-overhead Writer, in the spirit of the
// teacher's default logger; callers wanting JSON or another backend supply
// their own logiface.Writer[*Event] via WithWriter when constructing the
// Logger passed to WithLogger.
type textWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *textWriter) Write(e *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.out, "%s level=%s msg=%q", time.Now().Format(time.RFC3339Nano), e.level, e.message)
	if e.err != nil {
		fmt.Fprintf(w.out, " err=%q", e.err.Error())
	}
	for _, f := range e.fields {
		fmt.Fprintf(w.out, " %s=%v", f.key, f.val)
	}
	fmt.Fprintln(w.out)
	return nil
}

// Logger is the structured logger type the Scheduler accepts via WithLogger;
// no other component takes one. It's a thin alias over the
// generic logiface.Logger so call sites read naturally, e.g.
// logger.Info().Str("handle", h.String()).Log("accepted connection").
type Logger = logiface.Logger[*Event]

// NewLogger builds a Logger writing text lines to w at the given minimum
// level. Use logiface.New directly (with a custom Writer) for JSON or
// another backend.
func NewLogger(w io.Writer, level logiface.Level) *Logger {
	return logiface.New[*Event](
		logiface.WithLevel[*Event](level),
		logiface.WithEventFactory[*Event](eventFactory{}),
		logiface.WithEventReleaser[*Event](eventReleaser{}),
		logiface.WithWriter[*Event](&textWriter{out: w}),
	)
}

var globalNoop struct {
	sync.Once
	logger *Logger
}

// noopLogger returns a Logger configured with LevelDisabled, matching the
// teacher's default-to-no-op behavior: nothing is logged unless a caller
// explicitly opts in via WithLogger.
func noopLogger() *Logger {
	globalNoop.Do(func() {
		globalNoop.logger = NewLogger(os.Stderr, logiface.LevelDisabled)
	})
	return globalNoop.logger
}
