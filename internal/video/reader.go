package video

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"camtrap/internal/config"
)

// Frame is one decoded grayscale frame with its provenance.
type Frame struct {
	VideoID   int64
	Index     int
	Timestamp time.Time
	Gray      *image.Gray

	// SequenceBreak marks the first frame after a recording gap longer
	// than the configured maximum. Downstream consumers reset motion
	// state when they see it.
	SequenceBreak bool
}

// FrameReader decodes a single video into 8-bit grayscale frames by piping
// raw video out of ffmpeg.
type FrameReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    *bufio.Reader
	width  int
	height int
	frame  int
}

// NewFrameReader starts an ffmpeg decode of path at the given dimensions.
func NewFrameReader(ctx context.Context, path string, width, height int) (*FrameReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d for %s", width, height, path)
	}
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"pipe:1")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg for %s: %w", path, err)
	}
	return &FrameReader{
		cmd:    cmd,
		stdout: stdout,
		buf:    bufio.NewReaderSize(stdout, width*height),
		width:  width,
		height: height,
	}, nil
}

// Next returns the next frame, or io.EOF when the video is exhausted.
func (r *FrameReader) Next() (*image.Gray, int, error) {
	img := image.NewGray(image.Rect(0, 0, r.width, r.height))
	if _, err := io.ReadFull(r.buf, img.Pix); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, 0, err
	}
	idx := r.frame
	r.frame++
	return img, idx, nil
}

// Skip discards n frames without decoding them into images.
func (r *FrameReader) Skip(n int) error {
	frameBytes := int64(r.width) * int64(r.height)
	if _, err := io.CopyN(io.Discard, r.buf, frameBytes*int64(n)); err != nil {
		if err == io.ErrUnexpectedEOF {
			return io.EOF
		}
		return err
	}
	r.frame += n
	return nil
}

// Close waits for the decoder to exit.
func (r *FrameReader) Close() error {
	r.stdout.Close()
	return r.cmd.Wait()
}

// Item is one clip queued for decoding, with its resolved metadata.
type Item struct {
	VideoID int64
	Path    string
	Meta    Metadata
}

// Loader streams frames from a chronological run of clips over a bounded
// channel. Decoding and per-frame transforms happen on the loader's own
// goroutine so consumers only pay for analysis.
type Loader struct {
	cfg   config.IngestConfig
	items []Item
	log   *slog.Logger

	mu  sync.Mutex
	err error

	// Transform is applied to every decoded frame before it is queued.
	Transform func(*image.Gray) *image.Gray
}

// NewLoader builds a loader over items, which must already be sorted by
// start time.
func NewLoader(cfg config.IngestConfig, items []Item, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{cfg: cfg, items: items, log: log}
}

// Start launches decoding and returns the frame channel. The channel is
// closed when all clips are exhausted, a decode fails, or ctx is cancelled.
// Consumers must check Err after the channel closes to distinguish a clean
// end of input from a decode failure.
func (l *Loader) Start(ctx context.Context) <-chan Frame {
	queueSize := l.cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 500
	}
	out := make(chan Frame, queueSize)

	go func() {
		defer close(out)
		var lastStop time.Time

		for _, item := range l.items {
			sequenceBreak := false
			if !lastStop.IsZero() && item.Meta.StartTime.Sub(lastStop) > l.cfg.MaxTimeGap() {
				sequenceBreak = true
			}
			if err := l.decode(ctx, item, sequenceBreak, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.log.Error("decode failed", "path", item.Path, "error", err)
				l.setErr(fmt.Errorf("decode %s: %w", item.Path, err))
				return
			}
			stop := item.Meta.StopTime
			if stop.IsZero() {
				stop = item.Meta.StartTime
			}
			lastStop = stop
		}
	}()
	return out
}

func (l *Loader) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// Err reports the decode failure that ended the stream, if any. Valid only
// after the frame channel has closed.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Loader) decode(ctx context.Context, item Item, sequenceBreak bool, out chan<- Frame) error {
	reader, err := NewFrameReader(ctx, item.Path, item.Meta.Width, item.Meta.Height)
	if err != nil {
		return err
	}
	defer reader.Close()

	fps := item.Meta.FPS
	if fps <= 0 {
		fps = 30
	}
	frameInterval := time.Duration(float64(time.Second) / fps)

	first := true
	for {
		img, idx, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if l.Transform != nil {
			img = l.Transform(img)
		}

		frame := Frame{
			VideoID:       item.VideoID,
			Index:         idx,
			Timestamp:     item.Meta.StartTime.Add(time.Duration(idx) * frameInterval),
			Gray:          img,
			SequenceBreak: sequenceBreak && first,
		}
		first = false

		select {
		case out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}

		if l.cfg.SkipFrames > 0 {
			if err := reader.Skip(l.cfg.SkipFrames); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
		}
	}
}
