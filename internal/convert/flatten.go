// Package convert flattens domain records into JSON-ready maps.
package convert

import (
	"fmt"
	"math"
	"time"

	"github.com/and161185/keypad-relay/internal/errs"
	"github.com/and161185/keypad-relay/internal/model"
)

// Visitor receives one callback per supported value kind.
type Visitor[T any] interface {
	Null() (T, error)
	Bool(v bool) (T, error)
	Int(v int64) (T, error)
	Float(v float64) (T, error)
	String(v string) (T, error)
	Time(v time.Time) (T, error)
	GeoPoint(p model.GeoPoint) (T, error)
	Record(r model.Record) (T, error)
}

// Walk dispatches v to the matching visitor method.
// Kinds outside the supported set, or values whose concrete type does not
// match their declared kind, yield errs.ErrUnencodable.
func Walk[T any](v model.Value, vis Visitor[T]) (T, error) {
	var zero T
	if v == nil {
		return vis.Null()
	}
	switch v.Kind() {
	case model.KindNull:
		return vis.Null()
	case model.KindBool:
		if b, ok := v.(model.Bool); ok {
			return vis.Bool(bool(b))
		}
	case model.KindInt:
		if i, ok := v.(model.Int); ok {
			return vis.Int(int64(i))
		}
	case model.KindFloat:
		if f, ok := v.(model.Float); ok {
			return vis.Float(float64(f))
		}
	case model.KindString:
		if s, ok := v.(model.String); ok {
			return vis.String(string(s))
		}
	case model.KindTime:
		if t, ok := v.(model.Timestamp); ok {
			return vis.Time(time.Time(t))
		}
	case model.KindGeoPoint:
		if p, ok := v.(model.GeoPoint); ok {
			return vis.GeoPoint(p)
		}
	case model.KindRecord:
		if r, ok := v.(model.Record); ok {
			return vis.Record(r)
		}
	}
	return zero, fmt.Errorf("%w: %T (kind %s)", errs.ErrUnencodable, v, v.Kind())
}

// jsonVisitor maps values onto encoding/json friendly primitives.
type jsonVisitor struct{}

func (jsonVisitor) Null() (any, error)           { return nil, nil }
func (jsonVisitor) Bool(v bool) (any, error)     { return v, nil }
func (jsonVisitor) Int(v int64) (any, error)     { return v, nil }
func (jsonVisitor) String(v string) (any, error) { return v, nil }

func (jsonVisitor) Float(v float64) (any, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: float %v", errs.ErrUnencodable, v)
	}
	return v, nil
}

// Time renders milliseconds since the Unix epoch.
func (jsonVisitor) Time(v time.Time) (any, error) {
	return float64(v.UnixMilli()), nil
}

func (jsonVisitor) GeoPoint(p model.GeoPoint) (any, error) {
	return map[string]any{"lat": p.Lat, "lon": p.Lon}, nil
}

func (jsonVisitor) Record(r model.Record) (any, error) {
	return Flatten(r)
}

// Flatten converts a record into a map, recursing into nested records.
func Flatten(r model.Record) (map[string]any, error) {
	out := make(map[string]any, len(r))
	for _, p := range r {
		v, err := Walk[any](p.Value, jsonVisitor{})
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", p.Name, err)
		}
		out[p.Name] = v
	}
	return out, nil
}

// FlattenAll flattens every item, skipping the ones that fail.
// onSkip, if set, is called with the index and error of each skipped item.
// The result is never nil.
func FlattenAll[R model.Recorder](items []R, onSkip func(i int, err error)) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for i, it := range items {
		m, err := Flatten(it.Record())
		if err != nil {
			if onSkip != nil {
				onSkip(i, err)
			}
			continue
		}
		out = append(out, m)
	}
	return out
}
