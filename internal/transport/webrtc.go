package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/arvelin/voxbridge/internal/session"
)

const micFrameDuration = 20 * time.Millisecond

// WebRTCConfig configures the peer-to-peer transport.
type WebRTCConfig struct {
	// APIURL is the SDP exchange endpoint, e.g.
	// https://api.openai.com/v1/realtime.
	APIURL string
	// ChannelName names the control data channel. The protocol expects
	// "oai-events".
	ChannelName string
	// NegotiationTimeout bounds the whole offer/answer exchange.
	NegotiationTimeout time.Duration
	// Mic supplies local audio. Nil means receive-only.
	Mic MicSource
}

// WebRTC negotiates a peer connection with the realtime API: one local
// audio track, one ordered reliable data channel for JSON control events.
type WebRTC struct {
	cfg  WebRTCConfig
	http *http.Client

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	micStream io.ReadCloser
	closed    bool

	micEnabled atomic.Bool
}

func NewWebRTC(cfg WebRTCConfig) *WebRTC {
	if cfg.ChannelName == "" {
		cfg.ChannelName = "oai-events"
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = 30 * time.Second
	}
	t := &WebRTC{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.NegotiationTimeout},
	}
	t.micEnabled.Store(true)
	return t
}

func (t *WebRTC) Start(ctx context.Context, cred session.Credential, model string, h Handlers) error {
	u, err := url.Parse(strings.TrimSpace(t.cfg.APIURL))
	if err != nil || u.Scheme != "https" {
		return ErrInsecureEndpoint
	}

	var micStream io.ReadCloser
	if t.cfg.Mic != nil {
		micStream, err = t.cfg.Mic.Open(ctx)
		if err != nil {
			return &PermissionError{Err: err}
		}
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		closeQuiet(micStream)
		return &NegotiationError{Err: fmt.Errorf("create peer connection: %w", err)}
	}

	teardown := func() {
		closeQuiet(micStream)
		_ = pc.Close()
	}

	if micStream != nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
			"microphone", "voxbridge",
		)
		if err != nil {
			teardown()
			return &NegotiationError{Err: fmt.Errorf("create audio track: %w", err)}
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			teardown()
			return &NegotiationError{Err: fmt.Errorf("attach audio track: %w", err)}
		}
		go drainRTCP(sender)
		go t.pumpMic(micStream, track)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(t.cfg.ChannelName, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		teardown()
		return &NegotiationError{Err: fmt.Errorf("create data channel: %w", err)}
	}
	if h.OnOpen != nil {
		dc.OnOpen(h.OnOpen)
	}
	if h.OnEvent != nil {
		onEvent := h.OnEvent
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			onEvent(msg.Data)
		})
	}
	if h.OnTrack != nil {
		onTrack := h.OnTrack
		pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			onTrack(&remoteTrackReader{track: remote})
		})
	}
	if h.OnClose != nil {
		onClose := h.OnClose
		var closeNotified sync.Once
		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			switch state {
			case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
				closeNotified.Do(func() {
					if t.isClosed() {
						return
					}
					onClose(fmt.Errorf("peer connection %s", state))
				})
			}
		})
	}

	answer, err := t.negotiate(ctx, pc, cred, model)
	if err != nil {
		teardown()
		return err
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		teardown()
		return &NegotiationError{Err: fmt.Errorf("apply answer: %w", err)}
	}

	t.mu.Lock()
	t.pc = pc
	t.dc = dc
	t.micStream = micStream
	t.closed = false
	t.mu.Unlock()
	return nil
}

func (t *WebRTC) negotiate(ctx context.Context, pc *webrtc.PeerConnection, cred session.Credential, model string) (webrtc.SessionDescription, error) {
	none := webrtc.SessionDescription{}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.NegotiationTimeout)
	defer cancel()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return none, &NegotiationError{Err: fmt.Errorf("create offer: %w", err)}
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return none, &NegotiationError{Err: fmt.Errorf("set local description: %w", err)}
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return none, &NegotiationError{Err: ctx.Err()}
	}

	endpoint := t.cfg.APIURL
	if model != "" {
		endpoint += "?model=" + url.QueryEscape(model)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(pc.LocalDescription().SDP))
	if err != nil {
		return none, &NegotiationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+cred.Value)

	res, err := t.http.Do(req)
	if err != nil {
		return none, &NegotiationError{Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return none, &NegotiationError{Err: fmt.Errorf("read answer: %w", err)}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return none, &NegotiationError{Status: res.StatusCode}
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: string(body)}, nil
}

// pumpMic feeds 20ms microphone frames into the local track. Muted frames
// are skipped entirely so the model hears silence, not processed audio.
func (t *WebRTC) pumpMic(stream io.ReadCloser, track *webrtc.TrackLocalStaticSample) {
	sampleRate := 8000
	if t.cfg.Mic != nil && t.cfg.Mic.SampleRate() > 0 {
		sampleRate = t.cfg.Mic.SampleRate()
	}
	frame := make([]byte, sampleRate*2*int(micFrameDuration/time.Millisecond)/1000)

	for {
		if _, err := io.ReadFull(stream, frame); err != nil {
			return
		}
		if t.isClosed() {
			return
		}
		if !t.micEnabled.Load() {
			continue
		}
		sample := media.Sample{
			Data:     encodeMuLaw(frame),
			Duration: micFrameDuration,
		}
		if err := track.WriteSample(sample); err != nil {
			return
		}
	}
}

func (t *WebRTC) SendEvent(evt any) error {
	t.mu.Lock()
	dc := t.dc
	closed := t.closed
	t.mu.Unlock()

	if closed || dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelClosed
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return dc.SendText(string(raw))
}

func (t *WebRTC) SetMicEnabled(enabled bool) {
	t.micEnabled.Store(enabled)
}

func (t *WebRTC) Close() error {
	t.mu.Lock()
	t.closed = true
	pc := t.pc
	dc := t.dc
	mic := t.micStream
	t.pc = nil
	t.dc = nil
	t.micStream = nil
	t.mu.Unlock()

	closeQuiet(mic)
	if dc != nil {
		_ = dc.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
	return nil
}

func (t *WebRTC) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// remoteTrackReader exposes a remote audio track's RTP payloads as a
// byte stream for the playback layer.
type remoteTrackReader struct {
	track *webrtc.TrackRemote
	rest  []byte
}

func (r *remoteTrackReader) Read(p []byte) (int, error) {
	if len(r.rest) == 0 {
		pkt, _, err := r.track.ReadRTP()
		if err != nil {
			return 0, err
		}
		r.rest = pkt.Payload
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func closeQuiet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// encodeMuLaw converts PCM16LE samples to G.711 mu-law, one byte per
// sample.
func encodeMuLaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := 0; i < len(out); i++ {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = muLawByte(sample)
	}
	return out
}

func muLawByte(sample int16) byte {
	const bias = 0x84
	const clip = 32635

	v := int32(sample)
	sign := byte(0)
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > clip {
		v = clip
	}
	v += bias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}
