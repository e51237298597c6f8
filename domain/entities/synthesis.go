package entities

import "sync"

// SynthesisBuffer accumulates the binary frames of one synthesis socket in
// receipt order. Frames are kept as a chunk list and joined once.
type SynthesisBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
}

// NewSynthesisBuffer creates an empty buffer
func NewSynthesisBuffer() *SynthesisBuffer {
	return &SynthesisBuffer{}
}

// Append stores a copy of chunk at the end of the sequence
func (b *SynthesisBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	b.mu.Lock()
	b.chunks = append(b.chunks, c)
	b.size += len(c)
	b.mu.Unlock()
}

// Len returns the number of chunks received
func (b *SynthesisBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Size returns the total number of bytes received
func (b *SynthesisBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Bytes joins all chunks in receipt order
func (b *SynthesisBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Reset discards all chunks
func (b *SynthesisBuffer) Reset() {
	b.mu.Lock()
	b.chunks = nil
	b.size = 0
	b.mu.Unlock()
}
