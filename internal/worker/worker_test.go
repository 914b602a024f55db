package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"time"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// framed wraps a payload in the length header the engine writes on FD 3.
func framed(payload []byte) *MockCloser {
	m := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(m, binary.BigEndian, uint32(len(payload)))
	m.Write(payload)
	return m
}

func okPayload(faces ...[]float32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(len(faces)))
	for _, vec := range faces {
		binary.Write(payload, binary.BigEndian, [4]int32{10, 40, 50, 5})
		binary.Write(payload, binary.BigEndian, uint32(len(vec)))
		binary.Write(payload, binary.BigEndian, vec)
	}
	return payload.Bytes()
}

func TestProcessFrame(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}

	vec := make([]float32, 128)
	vec[0] = 0.5
	dataPipeMock := framed(okPayload(vec))

	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	faces, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Expect 4 bytes header + 4 bytes data
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if binary.BigEndian.Uint32(sentData[:4]) != uint32(len(inputFrame)) {
		t.Errorf("Length header mismatch: %X", sentData[:4])
	}

	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	if len(faces[0].Vec) != 128 {
		t.Errorf("Expected 128-d vector, got %d", len(faces[0].Vec))
	}
	if math.Abs(faces[0].Vec[0]-0.5) > 1e-9 {
		t.Errorf("Expected vector[0] approx 0.5, got %f", faces[0].Vec[0])
	}
	if faces[0].Loc.Top != 10 || faces[0].Loc.Right != 40 || faces[0].Loc.Bottom != 50 || faces[0].Loc.Left != 5 {
		t.Errorf("Unexpected box %+v", faces[0].Loc)
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	w := &PythonWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(okPayload()),
	}
	faces, err := w.ProcessFrame([]byte("frame"))
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(faces))
	}
}

func TestProcessFrame_Error(t *testing.T) {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)

	errMsg := "Python Exception: Import Error"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w := &PythonWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(payload.Bytes()),
	}

	_, err := w.ProcessFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestDecodeResponse_Corrupt(t *testing.T) {
	truncated := okPayload(make([]float32, 8))
	truncated = truncated[:len(truncated)-3]

	tooMany := new(bytes.Buffer)
	tooMany.WriteByte(statusOK)
	binary.Write(tooMany, binary.BigEndian, uint32(maxFaces+1))

	zeroDim := new(bytes.Buffer)
	zeroDim.WriteByte(statusOK)
	binary.Write(zeroDim, binary.BigEndian, uint32(1))
	binary.Write(zeroDim, binary.BigEndian, [4]int32{})
	binary.Write(zeroDim, binary.BigEndian, uint32(0))

	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"unknown status", []byte{7}},
		{"truncated vector", truncated},
		{"too many faces", tooMany.Bytes()},
		{"zero dimension", zeroDim.Bytes()},
		{"truncated error message", []byte{statusError, 0, 0, 0, 9, 'x'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeResponse(tt.body); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}

func TestDetect_Timeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	w := &PythonWorker{
		ID:       2,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: pr,
		timeout:  20 * time.Millisecond,
	}

	_, err := w.Detect(context.Background(), []byte("frame"))
	if !errors.Is(err, ErrWorkerTimeout) {
		t.Fatalf("Expected ErrWorkerTimeout, got %v", err)
	}

	// The stream is out of sync now, so the worker must refuse further work
	if _, err := w.Detect(context.Background(), []byte("frame")); !errors.Is(err, ErrWorkerTimeout) {
		t.Errorf("Expected broken worker to keep failing, got %v", err)
	}
}

func TestDetect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &PythonWorker{
		ID:       3,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(okPayload()),
	}
	if _, err := w.Detect(ctx, []byte("frame")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestNewPythonWorker_NoCommand(t *testing.T) {
	if _, err := NewPythonWorker(context.Background(), 0, Config{}); err == nil {
		t.Error("Expected error for empty command")
	}
}
