package model

import "time"

// Kind enumerates the property kinds a Record may carry.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindGeoPoint
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTime:
		return "timestamp"
	case KindGeoPoint:
		return "geopoint"
	case KindRecord:
		return "record"
	default:
		return "unknown"
	}
}

// Value is a typed record property.
type Value interface {
	Kind() Kind
}

type (
	Null      struct{}
	Bool      bool
	Int       int64
	Float     float64
	String    string
	Timestamp time.Time
)

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// Property is a named value inside a Record.
type Property struct {
	Name  string
	Value Value
}

// Record is an ordered list of properties; it may nest other records.
type Record []Property

// Recorder is implemented by entities that can be exposed as a Record.
type Recorder interface {
	Record() Record
}

func (Null) Kind() Kind      { return KindNull }
func (Bool) Kind() Kind      { return KindBool }
func (Int) Kind() Kind       { return KindInt }
func (Float) Kind() Kind     { return KindFloat }
func (String) Kind() Kind    { return KindString }
func (Timestamp) Kind() Kind { return KindTime }
func (GeoPoint) Kind() Kind  { return KindGeoPoint }
func (Record) Kind() Kind    { return KindRecord }
