package util

import (
	"context"
	"io"
)

// ReadResult is one chunk read from a StreamReader.
type ReadResult struct {
	Bytes []byte
	Error error
}

// StreamReader reads from an io.Reader in the background, so that callers
// can stop waiting on a read when their context expires.
type StreamReader struct {
	results chan ReadResult
}

// NewStreamReader starts reading from `reader`.
func NewStreamReader(reader io.Reader) *StreamReader {
	results := make(chan ReadResult)
	go func() {
		defer close(results)
		for {
			buf := make([]byte, 4096)
			n, err := reader.Read(buf)
			if n > 0 {
				results <- ReadResult{Bytes: buf[:n]}
			}
			if err != nil {
				results <- ReadResult{Error: err}
				return
			}
		}
	}()
	return &StreamReader{results: results}
}

// Read returns a channel that yields the next chunk. The channel is never
// written to if `ctx` expires first.
func (r *StreamReader) Read(ctx context.Context) <-chan ReadResult {
	out := make(chan ReadResult, 1)
	go func() {
		select {
		case <-ctx.Done():
		case res, ok := <-r.results:
			if !ok {
				res = ReadResult{Error: io.EOF}
			}
			out <- res
		}
	}()
	return out
}
