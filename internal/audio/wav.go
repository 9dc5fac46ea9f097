package audio

import (
	"bytes"
	"encoding/binary"
	"io"
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio in a WAV container. The
// backend's /read-text endpoint returns bare PCM; sinks that expect a
// self-describing stream get it through this.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	_ = WriteWAVPCM16LETo(&buf, pcm, sampleRate)
	return buf.Bytes()
}

// WAVOutput frames each clip as a WAV stream before handing it to a
// writer sink. The backend's synthesized clips are bare PCM16LE; a
// capture file needs the container to be playable.
type WAVOutput struct {
	inner      *WriterOutput
	sampleRate int
}

// NewWAVOutput wraps w in a WAV-framing sink. A non-positive sampleRate
// uses 16 kHz.
func NewWAVOutput(w io.Writer, sampleRate int) *WAVOutput {
	return &WAVOutput{inner: NewWriterOutput(w), sampleRate: sampleRate}
}

func (o *WAVOutput) Play(r io.Reader) error {
	pcm, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return o.inner.Play(bytes.NewReader(EncodeWAVPCM16LE(pcm, o.sampleRate)))
}

func (o *WAVOutput) Stop()  { o.inner.Stop() }
func (o *WAVOutput) Reset() { o.inner.Reset() }

// WriteWAVPCM16LETo writes raw PCM16LE mono audio to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		pcmFormat     = 1
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	header := struct {
		RIFF        [4]byte
		RIFFSize    uint32
		WAVE        [4]byte
		Fmt         [4]byte
		FmtSize     uint32
		AudioFormat uint16
		Channels    uint16
		SampleRate  uint32
		ByteRate    uint32
		BlockAlign  uint16
		BitDepth    uint16
		Data        [4]byte
		DataSize    uint32
	}{
		RIFF:        [4]byte{'R', 'I', 'F', 'F'},
		RIFFSize:    36 + dataSize,
		WAVE:        [4]byte{'W', 'A', 'V', 'E'},
		Fmt:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:     16,
		AudioFormat: pcmFormat,
		Channels:    numChannels,
		SampleRate:  uint32(sampleRate),
		ByteRate:    uint32(sampleRate * numChannels * bitsPerSample / 8),
		BlockAlign:  numChannels * bitsPerSample / 8,
		BitDepth:    bitsPerSample,
		Data:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:    dataSize,
	}

	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}
