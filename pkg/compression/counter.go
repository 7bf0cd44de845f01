package compression

import "io"

// Counter wraps an io.Writer and counts bytes written
type Counter struct {
	w     io.Writer
	count int64
}

func NewCounter(w io.Writer) *Counter {
	return &Counter{w: w}
}

func (c *Counter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.count += int64(n)
	return n, err
}

func (c *Counter) Count() int64 {
	return c.count
}
