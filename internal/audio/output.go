package audio

import (
	"errors"
	"io"
	"sync"
)

// ErrPlaybackStopped is returned by WriterOutput.Play when Stop cuts a
// clip short. Interruption is a normal exit, not a playback fault.
var ErrPlaybackStopped = errors.New("playback stopped")

// WriterOutput streams clips to an io.Writer in small chunks so Stop can
// take effect mid-clip. It is the default sink for headless runs (file,
// pipe, or an external player's stdin).
type WriterOutput struct {
	mu      sync.Mutex
	w       io.Writer
	stopped chan struct{}
}

func NewWriterOutput(w io.Writer) *WriterOutput {
	return &WriterOutput{w: w}
}

func (o *WriterOutput) Play(r io.Reader) error {
	o.mu.Lock()
	stopped := make(chan struct{})
	o.stopped = stopped
	w := o.w
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.stopped = nil
		o.mu.Unlock()
	}()

	buf := make([]byte, 4096)
	for {
		select {
		case <-stopped:
			return ErrPlaybackStopped
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			if w != nil {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return werr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (o *WriterOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped != nil {
		select {
		case <-o.stopped:
		default:
			close(o.stopped)
		}
	}
}

func (o *WriterOutput) Reset() {
	o.Stop()
}
