package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Context is an open PortAudio session. Streams and device queries need one;
// it is opened once by the program and closed on exit.
type Context struct {
	closeOnce sync.Once
	closeErr  error
}

// OpenContext initializes PortAudio.
func OpenContext() (*Context, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &Context{}, nil
}

// Close terminates PortAudio. Further calls are no-ops.
func (c *Context) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closeErr = portaudio.Terminate()
	})
	return c.closeErr
}
