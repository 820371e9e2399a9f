package domain

// ProgressFunc reports download progress.
// Called repeatedly while streaming: (32768, 3145729), (65536, 3145729), ...
// total is -1 when the server did not announce a length.
type ProgressFunc func(loaded, total int64)
