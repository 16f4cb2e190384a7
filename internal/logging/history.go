package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one record kept in the history.
type Entry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Sink receives every entry added to the history.
type Sink func(Entry)

// History is a fixed-size ring of recent entries.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
	seq     uint64
	sink    Sink
}

// NewHistory creates a history holding up to size entries.
func NewHistory(size int) *History {
	return &History{entries: make([]Entry, size)}
}

// Add stores e, assigning its sequence number, and forwards it to the sink.
func (h *History) Add(e Entry) {
	h.mu.Lock()
	h.seq++
	e.Seq = h.seq
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	sink := h.sink
	h.mu.Unlock()

	if sink != nil {
		sink(e)
	}
}

// Entries returns the stored entries, oldest first, with Seq > after.
func (h *History) Entries(after uint64) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ordered []Entry
	if h.full {
		ordered = append(ordered, h.entries[h.next:]...)
	}
	ordered = append(ordered, h.entries[:h.next]...)

	out := ordered[:0]
	for _, e := range ordered {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

func (h *History) setSink(s Sink) {
	h.mu.Lock()
	h.sink = s
	h.mu.Unlock()
}

// Recent returns the process-wide history.
func Recent() *History {
	return history
}

// SetSink installs a callback for every new entry, e.g. to publish log
// events. Passing nil removes it.
func SetSink(s Sink) {
	history.setSink(s)
}

// groupedAttr is an attribute with the groups open when it was added.
type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

// historyHandler is the slog.Handler feeding a History.
type historyHandler struct {
	h      *History
	level  slog.Leveler
	attrs  []groupedAttr
	groups []string
}

func newHistoryHandler(h *History, level slog.Leveler) *historyHandler {
	return &historyHandler{h: h, level: level}
}

func (hh *historyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= hh.level.Level()
}

func (hh *historyHandler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{
		Timestamp:  r.Time,
		Level:      LevelName(r.Level),
		Module:     "app",
		Message:    r.Message,
		Attributes: make(map[string]any),
	}
	take := func(groups []string, a slog.Attr) {
		if a.Key == "module" && len(groups) == 0 {
			e.Module = a.Value.String()
			return
		}
		flatten(e.Attributes, groups, a)
	}
	for _, ga := range hh.attrs {
		take(ga.groups, ga.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		take(hh.groups, a)
		return true
	})
	if len(e.Attributes) == 0 {
		e.Attributes = nil
	}
	hh.h.Add(e)
	return nil
}

func (hh *historyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *hh
	c.attrs = append([]groupedAttr(nil), hh.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, groupedAttr{groups: hh.groups, attr: a})
	}
	return &c
}

func (hh *historyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return hh
	}
	c := *hh
	c.groups = append(append([]string(nil), hh.groups...), name)
	return &c
}

// flatten stores a into attrs with dotted group prefixes.
func flatten(attrs map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	switch a.Value.Kind() {
	case slog.KindGroup:
		sub := append(append([]string(nil), groups...), a.Key)
		for _, ga := range a.Value.Group() {
			flatten(attrs, sub, ga)
		}
	case slog.KindTime:
		attrs[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		attrs[key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			attrs[key] = err.Error()
		} else {
			attrs[key] = a.Value.Any()
		}
	default:
		attrs[key] = a.Value.Any()
	}
}
