package extract

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// frame writes one length-prefixed payload to w.
func frame(w io.Writer, payload []byte) {
	binary.Write(w, binary.BigEndian, uint32(len(payload)))
	w.Write(payload)
}

func TestExtract(t *testing.T) {
	// stdinMock simulates the pipe TO Python (we write to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// dataPipeMock simulates the pipe FROM Python (we read from it)
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// Pre-fill dataPipeMock with a fake response from "Python"
	frame(dataPipeMock, []byte(`[{"loc":[10,20,20,10],"vec":[0.5,0.25]}]`))

	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	faces, err := w.Extract("/photos/holiday.jpg")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// Verify Go sent a framed JSON task TO Python
	sent := stdinMock.Bytes()
	if len(sent) < 4 {
		t.Fatalf("Expected a framed request, got %d bytes", len(sent))
	}
	if bodyLen := binary.BigEndian.Uint32(sent[:4]); int(bodyLen) != len(sent)-4 {
		t.Errorf("Frame header says %d bytes, body has %d", bodyLen, len(sent)-4)
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(sent[4:], &req); err != nil {
		t.Fatalf("Request body is not JSON: %v", err)
	}
	if req.Path != "/photos/holiday.jpg" {
		t.Errorf("Expected path %q, got %q", "/photos/holiday.jpg", req.Path)
	}

	// Verify Go read the correct data FROM Python
	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	// Use epsilon for float comparison
	if math.Abs(faces[0].Vec[0]-0.5) > 1e-9 {
		t.Errorf("Expected vector[0] approx 0.5, got %f", faces[0].Vec[0])
	}
}

func TestExtractNoFaces(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	frame(dataPipeMock, []byte(`[]`))

	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	faces, err := w.Extract("/photos/landscape.jpg")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %v", faces)
	}
}

func TestExtractImageError(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// Pre-fill dataPipeMock with an ERROR response from "Python"
	frame(dataPipeMock, []byte(`{"error": "Unable to load image"}`))

	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	_, err := w.Extract("/photos/corrupt.jpg")
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	var imgErr *ImageError
	if !errors.As(err, &imgErr) {
		t.Fatalf("Expected an *ImageError, got %T: %v", err, err)
	}
	if imgErr.Msg != "Unable to load image" {
		t.Errorf("Expected message %q, got %q", "Unable to load image", imgErr.Msg)
	}
	if imgErr.Path != "/photos/corrupt.jpg" {
		t.Errorf("Expected path in error, got %q", imgErr.Path)
	}
}

func TestExtractMalformedResponse(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	frame(dataPipeMock, []byte(`{not json at all`))

	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	_, err := w.Extract("/photos/a.jpg")
	var imgErr *ImageError
	if !errors.As(err, &imgErr) {
		t.Fatalf("Expected an *ImageError, got %T: %v", err, err)
	}
	if !strings.Contains(imgErr.Msg, "malformed") {
		t.Errorf("Expected a malformed-response message, got %q", imgErr.Msg)
	}
}

func TestExtractWorkerGone(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// Empty pipe: the process died before answering
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	w := &PythonWorker{ID: 1, Stdin: stdinMock, DataPipe: dataPipeMock}

	_, err := w.Extract("/photos/a.jpg")
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	// A transport failure is not an image-scoped error
	var imgErr *ImageError
	if errors.As(err, &imgErr) {
		t.Errorf("Expected a transport error, got image error %v", imgErr)
	}
}
