package utils

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpegBackToBack(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xBB, 0xFF, 0xD9}
	scanner := bufio.NewScanner(bytes.NewReader(append(append([]byte{}, a...), b...)))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("Frames split incorrectly: %X", got)
	}
}

func TestFFmpegCaptureArgs(t *testing.T) {
	tests := []struct {
		name   string
		device string
		format string
		fps    int
		want   string
	}{
		{
			name:   "linux webcam",
			device: "/dev/video0",
			format: "v4l2",
			fps:    15,
			want:   "-hide_banner -loglevel error -f v4l2 -framerate 15 -i /dev/video0 -f image2pipe -vcodec mjpeg -q:v 3 -",
		},
		{
			name:   "device defaults",
			device: "0",
			want:   "-hide_banner -loglevel error -i 0 -f image2pipe -vcodec mjpeg -q:v 3 -",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(FFmpegCaptureArgs(tt.device, tt.format, tt.fps), " ")
			if got != tt.want {
				t.Errorf("FFmpegCaptureArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewSafeCommandCapturesStderr(t *testing.T) {
	s := NewSafeCommand(context.Background(), "sh", "-c", "echo boom 1>&2; exit 3")
	if err := s.Run(); err == nil {
		t.Fatal("Expected non-zero exit")
	}
	if !strings.Contains(s.Stderr.String(), "boom") {
		t.Errorf("Expected stderr to be captured, got %q", s.Stderr.String())
	}
}

func TestCheckDependency(t *testing.T) {
	if err := CheckDependency("definitely-not-a-real-binary-xyz"); err == nil {
		t.Error("Expected error for missing binary")
	}
}
