package state

import (
	"errors"
	"testing"
)

type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type askAge struct {
	Attempts int `json:"attempts"`
}

func (askAge) Kind() Kind { return "ask_age" }

type pointerState struct{ Step int }

func (*pointerState) Kind() Kind { return "ptr" }

func TestEnvelopeRoundTrip(t *testing.T) {
	c := NewCodec()
	Register(c, askAge{})
	Register(c, &pointerState{})

	in := Envelope[profile]{Current: askAge{Attempts: 2}, Global: profile{Name: "Ann"}}
	rec, err := EncodeEnvelope(c, in)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	if rec.Kind != "ask_age" {
		t.Fatalf("kind = %q", rec.Kind)
	}
	out, err := DecodeEnvelope[profile](c, rec)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if out.Current != (askAge{Attempts: 2}) || out.Global != in.Global {
		t.Fatalf("out = %+v", out)
	}

	rec, _ = EncodeEnvelope(c, Envelope[profile]{Current: &pointerState{Step: 3}})
	out, err = DecodeEnvelope[profile](c, rec)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if p, ok := out.Current.(*pointerState); !ok || p.Step != 3 {
		t.Fatalf("current = %#v", out.Current)
	}
}

func TestCodecUnknownKind(t *testing.T) {
	c := NewCodec()
	if _, err := c.Decode("nope", []byte(`{}`)); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err = %v", err)
	}
	if _, _, err := c.Encode(nil); !errors.Is(err, ErrNilState) {
		t.Fatalf("err = %v", err)
	}
	Register(c, askAge{})
	if !c.Known("ask_age") || c.Known("nope") {
		t.Fatal("Known mismatch")
	}
}
