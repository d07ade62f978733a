package convert

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/keypad-relay/internal/errs"
	"github.com/and161185/keypad-relay/internal/model"
)

// rogue claims a supported kind but is not the matching concrete type.
type rogue struct{}

func (rogue) Kind() model.Kind { return model.KindString }

// alien reports a kind outside the supported set.
type alien struct{}

func (alien) Kind() model.Kind { return model.Kind(200) }

type recorderFunc func() model.Record

func (f recorderFunc) Record() model.Record { return f() }

func TestFlatten_AllKinds(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := model.Record{
		{Name: "nil", Value: nil},
		{Name: "null", Value: model.Null{}},
		{Name: "b", Value: model.Bool(true)},
		{Name: "i", Value: model.Int(42)},
		{Name: "f", Value: model.Float(1.5)},
		{Name: "s", Value: model.String("open")},
		{Name: "t", Value: model.Timestamp(ts)},
		{Name: "geo", Value: model.GeoPoint{Lat: 52.1, Lon: 4.3}},
		{Name: "nested", Value: model.Record{
			{Name: "inner", Value: model.Record{{Name: "x", Value: model.Int(1)}}},
		}},
	}

	m, err := Flatten(rec)
	require.NoError(t, err)
	require.Nil(t, m["nil"])
	require.Nil(t, m["null"])
	require.Equal(t, true, m["b"])
	require.Equal(t, int64(42), m["i"])
	require.Equal(t, 1.5, m["f"])
	require.Equal(t, "open", m["s"])
	require.Equal(t, float64(ts.UnixMilli()), m["t"])
	require.Equal(t, map[string]any{"lat": 52.1, "lon": 4.3}, m["geo"])
	require.Equal(t, map[string]any{"inner": map[string]any{"x": int64(1)}}, m["nested"])

	_, err = json.Marshal(m)
	require.NoError(t, err)
}

func TestFlatten_Unencodable(t *testing.T) {
	t.Parallel()

	cases := map[string]model.Value{
		"nan":        model.Float(math.NaN()),
		"inf":        model.Float(math.Inf(1)),
		"kind-clash": rogue{},
		"unknown":    alien{},
		"deep":       model.Record{{Name: "x", Value: alien{}}},
	}
	for name, v := range cases {
		_, err := Flatten(model.Record{{Name: "p", Value: v}})
		require.Truef(t, errors.Is(err, errs.ErrUnencodable), "%s: got %v", name, err)
	}
}

func TestFlattenAll_SkipsBadItems(t *testing.T) {
	t.Parallel()

	now := time.Now()
	good := func(v string) model.Recorder {
		return model.Event{UserKey: "u", Component: model.ComponentFrontDoor, Value: v, EventTime: now}
	}
	bad := recorderFunc(func() model.Record {
		return model.Record{{Name: "value", Value: model.Float(math.NaN())}}
	})

	var skipped []int
	out := FlattenAll([]model.Recorder{good("a"), bad, good("b")}, func(i int, err error) {
		require.ErrorIs(t, err, errs.ErrUnencodable)
		skipped = append(skipped, i)
	})

	require.Len(t, out, 2)
	require.Equal(t, "a", out[0]["value"])
	require.Equal(t, "b", out[1]["value"])
	require.Equal(t, []int{1}, skipped)
}

func TestFlattenAll_EmptyIsNotNil(t *testing.T) {
	t.Parallel()

	out := FlattenAll([]model.Event(nil), nil)
	require.NotNil(t, out)
	require.Empty(t, out)
}

func TestEventRecord_Shape(t *testing.T) {
	t.Parallel()

	ts := time.UnixMilli(1700000000123).UTC()
	m, err := Flatten(model.Event{UserKey: "k", Component: "STATE", Value: "armed", EventTime: ts}.Record())
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"user_key":   "k",
		"component":  "STATE",
		"value":      "armed",
		"event_time": float64(1700000000123),
	}, m)
}
