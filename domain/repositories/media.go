package repositories

import "context"

// MediaDevice creates handles bound to a file path, like a device media plugin
type MediaDevice interface {
	Open(path string) (MediaHandle, error)
}

// MediaHandle records into or plays back its file
type MediaHandle interface {
	StartRecord() error
	StopRecord() error
	// Play blocks until playback finishes or ctx is done
	Play(ctx context.Context) error
	Release() error
}
