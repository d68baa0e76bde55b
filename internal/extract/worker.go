// Package extract turns image files into face embeddings by driving a pool
// of Python worker processes that wrap the face_recognition model.
package extract

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/facesort/internal/types"
	"github.com/andresmejia3/facesort/internal/utils" // Using the SafeCommand wrapper
)

// Extractor produces face embeddings for one image at a time. Implementations
// are not safe for concurrent use; the pool gives each goroutine its own.
type Extractor interface {
	// Extract returns every face found in the image at path. A failure scoped
	// to that image is reported as an *ImageError; any other error means the
	// extractor itself is broken.
	Extract(path string) ([]types.FaceResult, error)

	// Logs returns captured diagnostic output, if any.
	Logs() string

	Close() error
}

// Factory starts a numbered Extractor, usually one Python process.
type Factory func(id int) (Extractor, error)

// ImageError reports a failure scoped to a single image. The pipeline logs it
// and moves on instead of aborting the run.
type ImageError struct {
	Path string
	Msg  string
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// PythonWorker drives one face_recognition subprocess. Requests and responses
// travel as length-prefixed JSON frames: tasks go down Stdin, results come
// back on a dedicated pipe the child sees as FD 3.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewPythonWorker launches script as worker number id.
func NewPythonWorker(id int, script string) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand we built
	py := utils.NewSafeCommand("python3", "-u", script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

type extractRequest struct {
	Path string `json:"path"`
}

// Extract asks the worker for the faces in one image. The worker answers with
// either a JSON array of faces or an error object for images it cannot load.
func (w *PythonWorker) Extract(path string) ([]types.FaceResult, error) {
	req, err := json.Marshal(extractRequest{Path: path})
	if err != nil {
		return nil, err
	}
	resp, err := w.communicate(req)
	if err != nil {
		return nil, err
	}

	var faces []types.FaceResult
	if err := json.Unmarshal(resp, &faces); err != nil {
		// Check if it's a Python error object (e.g. {"error": "..."})
		var errorResult types.ErrorResult
		if json.Unmarshal(resp, &errorResult) == nil && errorResult.Error != "" {
			return nil, &ImageError{Path: path, Msg: errorResult.Error}
		}
		// The frame arrived intact but the body is garbage; skip the image.
		return nil, &ImageError{Path: path, Msg: fmt.Sprintf("malformed worker response: %v", err)}
	}
	return faces, nil
}

// communicate writes one length-prefixed frame and reads one back.
func (w *PythonWorker) communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	// Read Result
	// We read from our clean DataPipe, so stray prints on stdout cannot corrupt frames.
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Logs returns everything the Python process wrote to stderr so far.
func (w *PythonWorker) Logs() string {
	if w.Cmd == nil || w.Cmd.Stderr == nil {
		return ""
	}
	return w.Cmd.Stderr.String()
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		return w.Cmd.Wait()
	}
	return nil
}
