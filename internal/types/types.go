package types

// EmbeddingDim is the length of a face embedding produced by the Python
// worker's encoding model.
const EmbeddingDim = 128

// ImageTask represents a single image sent to a worker for processing
type ImageTask struct {
	Index int
	Path  string
}

// FaceResult matches the JSON structure coming back from the Python worker
type FaceResult struct {
	Loc []int     `json:"loc"` // [top, right, bottom, left]
	Vec []float64 `json:"vec"` // 128-d face encoding
}

// ErrorResult captures the error object returned by Python on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// FaceObservation binds one detected face to the image it was found in.
// An image with N faces yields N observations sharing the same Path.
type FaceObservation struct {
	Path string
	Vec  []float64
}
