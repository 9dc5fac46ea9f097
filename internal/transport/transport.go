package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/arvelin/voxbridge/internal/session"
)

// ErrChannelClosed is returned by SendEvent when the control channel is
// not open. Callers must not assume best-effort delivery.
var ErrChannelClosed = errors.New("control channel is not open")

// ErrInsecureEndpoint rejects realtime API URLs that are not https/wss.
var ErrInsecureEndpoint = errors.New("realtime endpoint must be https or wss")

// PermissionError reports a microphone acquisition failure. Terminal for
// the session attempt.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// NegotiationError reports a failed connection handshake with the
// realtime API.
type NegotiationError struct {
	Status int
	Err    error
}

func (e *NegotiationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("negotiation failed: %v", e.Err)
	}
	return fmt.Sprintf("negotiation failed: status %d", e.Status)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// MicSource provides mono PCM16LE microphone audio. Capture-side echo
// cancellation, noise suppression and auto gain are deliberately not part
// of this contract: processed input audibly degrades AI voice turns.
type MicSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	SampleRate() int
}

// Handlers carries the callbacks a transport installs at Start. All are
// optional; nil handlers are skipped.
type Handlers struct {
	OnOpen  func()
	OnEvent func(raw []byte)
	OnTrack func(remote io.Reader)
	OnClose func(err error)
}

// Transport is a bidirectional audio+control connection to the realtime
// voice API.
type Transport interface {
	// Start negotiates the connection using the ephemeral credential.
	// Failures propagate as typed errors; the transport is fully torn
	// down on any Start error.
	Start(ctx context.Context, cred session.Credential, model string, h Handlers) error
	// SendEvent serializes and sends one control event.
	SendEvent(evt any) error
	// SetMicEnabled toggles local audio without renegotiating.
	SetMicEnabled(enabled bool)
	// Close tears everything down. Idempotent.
	Close() error
}
