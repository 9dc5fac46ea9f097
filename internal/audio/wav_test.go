package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVPCM16LE(t *testing.T) {
	pcm := make([]byte, 320)
	wav := EncodeWAVPCM16LE(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad container magic: %q %q", wav[0:4], wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Fatalf("riff size = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Fatalf("channels = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Fatalf("byte rate = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Fatalf("bit depth = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d", got)
	}
}

func TestWAVOutputFramesClips(t *testing.T) {
	var sink bytes.Buffer
	out := NewWAVOutput(&sink, 8000)

	pcm := bytes.Repeat([]byte{0x11, 0x22}, 100)
	if err := out.Play(bytes.NewReader(pcm)); err != nil {
		t.Fatalf("Play: %v", err)
	}

	data := sink.Bytes()
	if len(data) != 44+len(pcm) {
		t.Fatalf("sink length = %d, want %d", len(data), 44+len(pcm))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing container magic: %q %q", data[0:4], data[8:12])
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 8000 {
		t.Fatalf("sample rate = %d", got)
	}
	if !bytes.Equal(data[44:], pcm) {
		t.Fatal("payload does not match input samples")
	}
}

func TestEncodeWAVDefaultSampleRate(t *testing.T) {
	wav := EncodeWAVPCM16LE(nil, 0)
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("default sample rate = %d", got)
	}
}
