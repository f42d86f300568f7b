package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
)

// ErrClipReleased is returned when a released clip's payload is requested.
var ErrClipReleased = errors.New("audio clip released")

// Clip is a decoded audio payload waiting to be played. A clip is played at
// most once and its buffer is dropped as soon as playback ends.
type Clip struct {
	ID int64

	mu       sync.Mutex
	data     []byte
	size     int
	released bool
}

// NewClip wraps raw audio bytes.
func NewClip(id int64, data []byte) *Clip {
	return &Clip{ID: id, data: data, size: len(data)}
}

// DecodeClip decodes a base64 payload into a clip.
func DecodeClip(id int64, payload string) (*Clip, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("audio payload is empty")
	}
	return NewClip(id, data), nil
}

// Bytes returns the payload, or ErrClipReleased once the clip was released.
func (c *Clip) Bytes() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, ErrClipReleased
	}
	return c.data, nil
}

// Size is the payload length in bytes, kept after release for logging.
func (c *Clip) Size() int {
	return c.size
}

// Release drops the payload. Calling it again is a no-op.
func (c *Clip) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = nil
	c.released = true
}

// Released reports whether Release has been called.
func (c *Clip) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.released
}
