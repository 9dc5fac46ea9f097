package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/arvelin/voxbridge/internal/session"
)

func TestWebRTCRejectsInsecureScheme(t *testing.T) {
	for _, u := range []string{"http://api.example.com/v1/realtime", "ftp://x", "not a url at all\x00"} {
		tr := NewWebRTC(WebRTCConfig{APIURL: u})
		err := tr.Start(context.Background(), session.Credential{Value: "tok"}, "m", Handlers{})
		if !errors.Is(err, ErrInsecureEndpoint) {
			t.Fatalf("url %q: error = %v, want ErrInsecureEndpoint", u, err)
		}
	}
}

func TestWebRTCDefaults(t *testing.T) {
	tr := NewWebRTC(WebRTCConfig{APIURL: "https://api.example.com/v1/realtime"})
	if tr.cfg.ChannelName != "oai-events" {
		t.Fatalf("channel name = %q", tr.cfg.ChannelName)
	}
	if tr.cfg.NegotiationTimeout <= 0 {
		t.Fatal("negotiation timeout not defaulted")
	}
}

func TestWebRTCSendBeforeStart(t *testing.T) {
	tr := NewWebRTC(WebRTCConfig{APIURL: "https://api.example.com/v1/realtime"})
	if err := tr.SendEvent(struct{}{}); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("error = %v, want ErrChannelClosed", err)
	}
}

func TestWebRTCCloseIdempotent(t *testing.T) {
	tr := NewWebRTC(WebRTCConfig{APIURL: "https://api.example.com/v1/realtime"})
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestEncodeMuLaw(t *testing.T) {
	// Silence encodes to 0xFF (mu-law zero).
	silence := make([]byte, 8)
	for _, b := range encodeMuLaw(silence) {
		if b != 0xFF {
			t.Fatalf("silence byte = %#x, want 0xff", b)
		}
	}

	// One output byte per 16-bit sample.
	if got := len(encodeMuLaw(make([]byte, 320))); got != 160 {
		t.Fatalf("output length = %d, want 160", got)
	}

	// Positive and negative full-scale must not collide and must carry
	// the sign bit. Includes the minimum value, which cannot be negated
	// in 16 bits.
	pos := encodeMuLaw([]byte{0xFF, 0x7F})[0] // 32767
	neg := encodeMuLaw([]byte{0x00, 0x80})[0] // -32768
	if pos == neg {
		t.Fatal("full-scale positive and negative encode identically")
	}
	if pos&0x80 == 0 {
		t.Fatalf("positive sample lost sign convention: %#x", pos)
	}
	if neg&0x80 != 0 {
		t.Fatalf("negative sample lost sign convention: %#x", neg)
	}
}
