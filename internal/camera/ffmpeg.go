package camera

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
)

const megabyte = 1024 * 1024

// FFmpegCamera reads an MJPEG stream from an ffmpeg capture process.
//
// Only the newest undelivered frame is kept: a consumer that pauses (the enrollment
// inter-sample delay) resumes on a current frame instead of a backlog of stale ones.
type FFmpegCamera struct {
	Cmd *utils.SafeCommand

	stdout      io.ReadCloser
	cancel      context.CancelFunc
	frames      chan []byte
	done        chan struct{}
	readTimeout time.Duration

	mu        sync.Mutex
	streamErr error
	closeOnce sync.Once
	closeErr  error
}

// OpenFFmpeg starts ffmpeg on the configured device.
func OpenFFmpeg(ctx context.Context, cfg Config) (*FFmpegCamera, error) {
	if err := utils.CheckDependency("ffmpeg"); err != nil {
		return nil, &types.CaptureError{Op: "open", Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewFFmpegCmd(ctx, cfg.Device, cfg.Format, cfg.FPS)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &types.CaptureError{Op: "open", Err: err}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &types.CaptureError{Op: "open", Err: err}
	}

	c := newStreamCamera(stdout, cfg.ReadTimeout)
	c.Cmd = cmd
	c.cancel = cancel
	return c, nil
}

// newStreamCamera wraps any MJPEG byte stream. The pump goroutine starts immediately.
func newStreamCamera(stdout io.ReadCloser, readTimeout time.Duration) *FFmpegCamera {
	c := &FFmpegCamera{
		stdout:      stdout,
		frames:      make(chan []byte, 1),
		done:        make(chan struct{}),
		readTimeout: readTimeout,
	}
	go c.pump()
	return c
}

func (c *FFmpegCamera) pump() {
	defer close(c.done)
	defer close(c.frames)

	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())

		select {
		case c.frames <- frame:
		default:
			// Drop the stale frame; only this goroutine sends, so the second send cannot block.
			select {
			case <-c.frames:
			default:
			}
			c.frames <- frame
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	c.streamErr = err
	c.mu.Unlock()
}

// Next blocks until a frame arrives, the stream ends, ctx is done or the read timeout fires.
func (c *FFmpegCamera) Next(ctx context.Context) ([]byte, error) {
	var timeout <-chan time.Time
	if c.readTimeout > 0 {
		t := time.NewTimer(c.readTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case frame, ok := <-c.frames:
		if !ok {
			c.mu.Lock()
			err := c.streamErr
			c.mu.Unlock()
			return nil, &types.CaptureError{Op: "read", Err: err}
		}
		return frame, nil
	case <-ctx.Done():
		return nil, &types.CaptureError{Op: "read", Err: ctx.Err()}
	case <-timeout:
		return nil, &types.CaptureError{Op: "read", Err: ErrReadTimeout}
	}
}

// Close stops the capture process and releases the device. Safe to call more than once.
func (c *FFmpegCamera) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.Cmd == nil {
			c.closeErr = c.stdout.Close()
			<-c.done
			return
		}
		<-c.done
		if err := c.Cmd.Wait(); err != nil {
			// A killed ffmpeg is the normal way to stop the camera
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}
