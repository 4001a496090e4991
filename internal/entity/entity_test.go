package entity

import (
	"errors"
	"testing"
	"testing/quick"
)

func TestFormatParseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Entity
		want string
	}{
		{"plain", New("xmpp~1", "alice@example.org"), "xmpp~1:alice@example.org"},
		{"empty both", New("", ""), ":"},
		{"empty realm", New("", "42"), ":42"},
		{"empty id", New("sms~1", ""), "sms~1:"},
		{"separator in id", New("wa~1", "a:b:c"), "wa~1:a:b:c"},
		{"separator in realm", New("a:b", "x"), "a%3Ab:x"},
		{"percent in realm", New("50%", "x"), "50%25:x"},
		{"pending", Pending("sms~1", "1000-1"), "sms~1:~1000-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(tt.in)
			if got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
			back, err := Parse(got)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", got, err)
			}
			if back != tt.in {
				t.Errorf("Parse(Format(e)) = %+v, want %+v", back, tt.in)
			}
		})
	}
}

func TestRoundTripProperty(t *testing.T) {
	f := func(realm, id string) bool {
		e := New(realm, id)
		back, err := Parse(Format(e))
		return err == nil && back == e
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 2000}); err != nil {
		t.Error(err)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, s := range []string{"", "no-separator", "bad%zz:id", "trailing%2:id"} {
		if _, err := Parse(s); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q) error = %v, want ErrMalformed", s, err)
		}
	}
}

func TestPendingEntity(t *testing.T) {
	e := Pending("vk~1", "1700000000000-3")
	if e.Acknowledged() {
		t.Error("pending entity reported as acknowledged")
	}
	if e.LocalID() != "1700000000000-3" {
		t.Errorf("LocalID() = %q", e.LocalID())
	}

	acked := New("vk~1", "98765")
	if !acked.Acknowledged() {
		t.Error("realm entity reported as pending")
	}
	if acked.LocalID() != "" {
		t.Errorf("LocalID() = %q, want empty", acked.LocalID())
	}
}
