package model

import (
	"fmt"
	"time"
)

// Kind discriminates the request lifecycle events.
type Kind string

const (
	KindStarted   Kind = "started"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Kinds lists the recognized kinds in table-creation order.
var Kinds = []Kind{KindStarted, KindFailed, KindCompleted}

// IsValid reports whether k is one of the recognized kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindStarted, KindCompleted, KindFailed:
		return true
	}
	return false
}

// Terminal reports whether k closes an open request.
func (k Kind) Terminal() bool {
	return k == KindCompleted || k == KindFailed
}

// Event is a single parsed log event. The set of implementations is closed.
type Event interface {
	Kind() Kind
	SourceLine() int
	isEvent()
}

// Field flags a required integer field of an event.
type Field uint8

const (
	FieldLine Field = 1 << iota
	FieldStatus
)

// Has reports whether every flag in x is set in f.
func (f Field) Has(x Field) bool { return f&x == x }

// StartedEvent opens a request. Every field is required. Empty strings and a
// zero Timestamp are treated as absent and rejected by the store.
type StartedEvent struct {
	Line       int
	Timestamp  time.Time
	IP         string
	Method     string
	Controller string
	Action     string

	// Missing flags required integers the source record did not carry.
	// Unflagged integers are stored as given, zero included.
	Missing Field
}

// CompletedEvent closes a request that produced a response.
// Line, URL and Status are required. Timing fields are nil when the source
// log did not carry them.
type CompletedEvent struct {
	Line      int
	URL       string
	Status    int
	Duration  *float64
	Rendering *float64
	DB        *float64

	Missing Field
}

// FailedEvent closes a request that raised instead of responding.
type FailedEvent struct {
	Line int

	Missing Field
}

// Unrecognized is a record whose kind is missing or unknown. It is never stored.
type Unrecognized struct {
	RawKind string
	Line    int
}

func (StartedEvent) Kind() Kind   { return KindStarted }
func (CompletedEvent) Kind() Kind { return KindCompleted }
func (FailedEvent) Kind() Kind    { return KindFailed }
func (u Unrecognized) Kind() Kind { return Kind(u.RawKind) }

func (e StartedEvent) SourceLine() int   { return e.Line }
func (e CompletedEvent) SourceLine() int { return e.Line }
func (e FailedEvent) SourceLine() int    { return e.Line }
func (u Unrecognized) SourceLine() int   { return u.Line }

func (StartedEvent) isEvent()   {}
func (CompletedEvent) isEvent() {}
func (FailedEvent) isEvent()    {}
func (Unrecognized) isEvent()   {}

// Float returns a pointer to v, for populating optional timing fields.
func Float(v float64) *float64 { return &v }

// FromRecord converts the loosely typed record shape produced by log parsers
// (a "kind" discriminator plus kind-specific keys) into an Event.
// A missing or unknown kind yields Unrecognized rather than an error; a known
// kind with a wrongly typed value yields an error.
func FromRecord(rec map[string]any) (Event, error) {
	var kind string
	switch v := rec["kind"].(type) {
	case string:
		kind = v
	case Kind:
		kind = string(v)
	case fmt.Stringer:
		kind = v.String()
	}
	if !Kind(kind).IsValid() {
		// Dropped records are never validated; the line is best effort.
		line, _, _ := intField(rec, "line")
		return Unrecognized{RawKind: kind, Line: line}, nil
	}

	var missing Field
	line, ok, err := intField(rec, "line")
	if err != nil {
		return nil, err
	}
	if !ok {
		missing |= FieldLine
	}

	switch Kind(kind) {
	case KindStarted:
		ev := StartedEvent{Line: line, Missing: missing}
		if ev.Timestamp, err = timeField(rec, "timestamp"); err != nil {
			return nil, err
		}
		for key, dst := range map[string]*string{
			"ip":         &ev.IP,
			"method":     &ev.Method,
			"controller": &ev.Controller,
			"action":     &ev.Action,
		} {
			if *dst, err = stringField(rec, key); err != nil {
				return nil, err
			}
		}
		return ev, nil

	case KindCompleted:
		ev := CompletedEvent{Line: line}
		if ev.URL, err = stringField(rec, "url"); err != nil {
			return nil, err
		}
		if ev.Status, ok, err = intField(rec, "status"); err != nil {
			return nil, err
		}
		if !ok {
			missing |= FieldStatus
		}
		ev.Missing = missing
		for key, dst := range map[string]**float64{
			"duration":  &ev.Duration,
			"rendering": &ev.Rendering,
			"db":        &ev.DB,
		} {
			if *dst, err = floatField(rec, key); err != nil {
				return nil, err
			}
		}
		return ev, nil

	default:
		return FailedEvent{Line: line, Missing: missing}, nil
	}
}

// intField reports whether key was present, so a stored 0 and an absent
// value stay distinguishable.
func intField(rec map[string]any, key string) (int, bool, error) {
	raw, ok := rec[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case int32:
		return int(v), true, nil
	case int64:
		return int(v), true, nil
	case float64:
		if v != float64(int(v)) {
			return 0, false, fmt.Errorf("record field %q: non-integer value %v", key, v)
		}
		return int(v), true, nil
	}
	return 0, false, fmt.Errorf("record field %q: unexpected type %T", key, raw)
}

func floatField(rec map[string]any, key string) (*float64, error) {
	raw, ok := rec[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case float64:
		return &v, nil
	case float32:
		f := float64(v)
		return &f, nil
	case int:
		f := float64(v)
		return &f, nil
	case int64:
		f := float64(v)
		return &f, nil
	}
	return nil, fmt.Errorf("record field %q: unexpected type %T", key, raw)
}

func stringField(rec map[string]any, key string) (string, error) {
	raw, ok := rec[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("record field %q: unexpected type %T", key, raw)
	}
	return s, nil
}

func timeField(rec map[string]any, key string) (time.Time, error) {
	raw, ok := rec[key]
	if !ok || raw == nil {
		return time.Time{}, nil
	}
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.DateTime, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("record field %q: %w", key, err)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("record field %q: unexpected type %T", key, raw)
}
