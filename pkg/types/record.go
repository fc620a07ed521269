package types

// FileRecord describes one file transfer unit while it is in flight.
// It exists only between encoding a discovered file and flushing its
// frame, or between decoding a frame and persisting (or rejecting) it.
type FileRecord struct {
	RelPath        string // forward-slash separated, relative to the session root
	OriginalSize   int64  // size of the file before compression (informational)
	CompressedSize int64  // size of the payload actually framed on the wire
	Checksum       string // lower-case hex SHA-256 of the compressed payload
}

// ProgressUpdate represents raw transfer progress data for one file.
type ProgressUpdate struct {
	BytesSent  uint64
	TotalBytes uint64
}
