package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
)

const (
	statusOK    = 0
	statusError = 1

	// Sanity bounds for a single response; anything larger is a corrupt stream.
	maxFaces = 64
	maxDim   = 4096
)

// ErrWorkerTimeout is returned when the engine does not answer a frame in time.
var ErrWorkerTimeout = errors.New("python worker timed out")

// Provider turns one encoded frame into detected faces and their embeddings.
type Provider interface {
	Detect(ctx context.Context, frame []byte) ([]types.Face, error)
}

// Config describes how to launch the embedding engine.
type Config struct {
	Command string   // interpreter, e.g. python3
	Args    []string // e.g. -u python/worker.py
	Timeout time.Duration
}

// PythonWorker drives one engine process.
// Frames go in on stdin, results come back on a dedicated pipe (FD 3) so engine logging
// on stdout/stderr can never corrupt the protocol.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration
	mu      sync.Mutex
	broken  error
}

// NewPythonWorker starts the engine process. The process dies with ctx.
func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("worker %d: no engine command configured", id)
	}
	py := utils.NewSafeCommand(ctx, cfg.Command, cfg.Args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.Timeout,
	}, nil
}

// Communicate sends one length-prefixed message and reads one length-prefixed reply.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // the engine crashed before answering (import errors land here)
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends a JPEG frame and decodes the detected faces.
func (w *PythonWorker) ProcessFrame(frame []byte) ([]types.Face, error) {
	resp, err := w.Communicate(frame)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

// Detect is ProcessFrame bounded by ctx and the configured timeout.
// A worker that timed out is killed and refuses further frames, since its pipe is out of sync.
func (w *PythonWorker) Detect(ctx context.Context, frame []byte) ([]types.Face, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return nil, w.broken
	}

	if w.timeout <= 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		faces, err := w.ProcessFrame(frame)
		if err != nil {
			w.broken = fmt.Errorf("worker %d unusable: %w", w.ID, err)
		}
		return faces, err
	}

	type reply struct {
		faces []types.Face
		err   error
	}
	done := make(chan reply, 1)
	go func() {
		faces, err := w.ProcessFrame(frame)
		done <- reply{faces, err}
	}()

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			w.broken = fmt.Errorf("worker %d unusable: %w", w.ID, r.err)
		}
		return r.faces, r.err
	case <-timer.C:
		w.broken = ErrWorkerTimeout
	case <-ctx.Done():
		w.broken = ctx.Err()
	}
	w.kill()
	return nil, w.broken
}

func (w *PythonWorker) kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
	}
}

// Close shuts the engine down and waits for it.
func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}

// decodeResponse parses an engine reply.
//
//	[status u8]
//	status 0: [nfaces u32] nfaces × ([top,right,bottom,left i32×4] [dim u32] [vec f32×dim])
//	status 1: [msglen u32] [msg]
func decodeResponse(body []byte) ([]types.Face, error) {
	r := bytes.NewReader(body)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty engine response: %w", err)
	}

	switch status {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("truncated engine error: %w", err)
		}
		if int(msgLen) > r.Len() {
			return nil, fmt.Errorf("truncated engine error: want %d bytes, have %d", msgLen, r.Len())
		}
		msg := make([]byte, msgLen)
		_, _ = io.ReadFull(r, msg)
		return nil, fmt.Errorf("python worker error: %s", msg)
	default:
		return nil, fmt.Errorf("unknown engine status byte %d", status)
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("reading face count: %w", err)
	}
	if n > maxFaces {
		return nil, fmt.Errorf("engine reported %d faces, limit is %d", n, maxFaces)
	}

	faces := make([]types.Face, 0, n)
	for i := uint32(0); i < n; i++ {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d box: %w", i, err)
		}
		var dim uint32
		if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
			return nil, fmt.Errorf("face %d dim: %w", i, err)
		}
		if dim == 0 || dim > maxDim {
			return nil, fmt.Errorf("face %d: invalid embedding dimension %d", i, dim)
		}
		raw := make([]float32, dim)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("face %d vector: %w", i, err)
		}
		vec := make(types.Vector, dim)
		for j, v := range raw {
			vec[j] = float64(v)
		}
		faces = append(faces, types.Face{
			Loc: types.Box{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])},
			Vec: vec,
		})
	}
	return faces, nil
}
