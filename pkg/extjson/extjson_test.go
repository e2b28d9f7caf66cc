package extjson

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMarshal_RelaxedTimestamp(t *testing.T) {
	at := time.Date(2024, 3, 7, 12, 30, 45, 123456789, time.UTC)
	data, err := Marshal(map[string]any{"created": at})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"created":{"$date":"2024-03-07T12:30:45.123Z"}}`
	if string(data) != want {
		t.Fatalf("got %s want %s", data, want)
	}
}

func TestMarshal_CanonicalTimestamp(t *testing.T) {
	at := time.UnixMilli(1709814645123).UTC()
	codec := Codec{Canonical: true}
	data, err := codec.Marshal(map[string]any{"created": at})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"created":{"$date":1709814645123}}`
	if string(data) != want {
		t.Fatalf("got %s want %s", data, want)
	}
}

func TestRoundTrip_BothModes(t *testing.T) {
	at := time.Date(2024, 3, 7, 12, 30, 45, 123000000, time.UTC)
	doc := map[string]any{
		"created": at,
		"blob":    []byte{0x01, 0x02, 0xff},
		"name":    "widget",
		"count":   float64(3),
		"nested":  map[string]any{"seen": at},
		"events":  []any{at, "plain"},
		"none":    nil,
	}
	for _, codec := range []Codec{{}, {Canonical: true}} {
		data, err := codec.Marshal(doc)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		got, err := codec.Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		m, ok := got.(map[string]any)
		if !ok {
			t.Fatalf("decoded %T", got)
		}
		created, ok := m["created"].(time.Time)
		if !ok {
			t.Fatalf("created decoded as %T", m["created"])
		}
		if !created.Equal(at) {
			t.Fatalf("created %v want %v", created, at)
		}
		blob, ok := m["blob"].([]byte)
		if !ok || !bytes.Equal(blob, []byte{0x01, 0x02, 0xff}) {
			t.Fatalf("blob decoded as %T % x", m["blob"], blob)
		}
		nested := m["nested"].(map[string]any)
		if seen, ok := nested["seen"].(time.Time); !ok || !seen.Equal(at) {
			t.Fatalf("nested timestamp decoded as %T", nested["seen"])
		}
		events := m["events"].([]any)
		if ev, ok := events[0].(time.Time); !ok || !ev.Equal(at) {
			t.Fatalf("array timestamp decoded as %T", events[0])
		}
		if m["name"] != "widget" || m["count"] != float64(3) || m["none"] != nil {
			t.Fatalf("plain values mangled: %v", m)
		}
	}
}

func TestRoundTrip_TopLevelArray(t *testing.T) {
	at := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := Marshal([]any{at, float64(1), "x"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	arr, ok := got.([]any)
	if !ok || len(arr) != 3 {
		t.Fatalf("decoded %T", got)
	}
	if ts, ok := arr[0].(time.Time); !ok || !ts.Equal(at) {
		t.Fatalf("element 0 decoded as %T", arr[0])
	}
}

func TestMarshal_MillisecondTruncation(t *testing.T) {
	at := time.Date(2024, 3, 7, 12, 30, 45, 999999999, time.UTC)
	data, err := Codec{Canonical: true}.Marshal(map[string]any{"t": at})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Codec{Canonical: true}.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded := got.(map[string]any)["t"].(time.Time)
	if want := at.Truncate(time.Millisecond); !decoded.Equal(want) {
		t.Fatalf("got %v want %v", decoded, want)
	}
}

func TestUnmarshal_Location(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	codec := Codec{Location: loc}
	got, err := codec.Unmarshal([]byte(`{"$date":"2024-03-07T12:00:00.000Z"}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("decoded %T", got)
	}
	if ts.Location() != loc {
		t.Fatalf("location %v want %v", ts.Location(), loc)
	}
	if ts.Hour() != 14 {
		t.Fatalf("hour %d want 14", ts.Hour())
	}
}

func TestUnmarshal_MalformedWrappers(t *testing.T) {
	cases := []string{
		`{"$date":true}`,
		`{"$date":"not a timestamp"}`,
		`{"$binary":42}`,
		`{"$binary":"!!not base64!!"}`,
	}
	for _, in := range cases {
		if _, err := Unmarshal([]byte(in)); err == nil {
			t.Fatalf("expected error for %s", in)
		}
	}
}

func TestUnmarshal_WrapperLikeMapsPassThrough(t *testing.T) {
	// Extra sibling keys mean the object is user data, not a wrapper.
	got, err := Unmarshal([]byte(`{"$date":"2024-03-07T12:00:00.000Z","note":"keep"}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T", got)
	}
	if _, isTime := m["$date"].(time.Time); isTime {
		t.Fatalf("sibling-keyed $date must stay a plain map")
	}
}

func TestMarshal_StaticTypesPassThrough(t *testing.T) {
	type row struct {
		Name string    `json:"name"`
		At   time.Time `json:"at"`
	}
	at := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	data, err := Marshal(row{Name: "n", At: at})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "$date") {
		t.Fatalf("struct fields must use plain encoding: %s", data)
	}
	var decoded row
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.At.Equal(at) {
		t.Fatalf("got %v want %v", decoded.At, at)
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	if _, err := Unmarshal([]byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := Unmarshal(nil); err == nil {
		t.Fatalf("expected decode error for empty input")
	}
}
