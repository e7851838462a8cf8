package keyboard

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// ErrUnsupported is returned when a reader kind is not available on this platform.
var ErrUnsupported = errors.New("reader not supported on this platform")

// StreamSource feeds raw characters from a serial line, tty or stdin into a
// FieldDecoder. Readers that emit CR, LF or Tab after each card work as-is;
// readers that emit nothing rely on the idle timer.
type StreamSource struct {
	r io.Reader
}

// NewStreamSource wraps r.
func NewStreamSource(r io.Reader) *StreamSource {
	return &StreamSource{r: r}
}

// Run copies characters into dst until ctx is cancelled or r is exhausted.
// The blocking read happens on its own goroutine; closing the underlying
// reader is the caller's way to release it.
// POST: Returns nil on EOF or cancellation
func (s *StreamSource) Run(ctx context.Context, dst *FieldDecoder) error {
	chunks := make(chan string, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		br := bufio.NewReader(s.r)
		for {
			r, _, err := br.ReadRune()
			if err != nil {
				errc <- err
				return
			}
			var sb strings.Builder
			sb.WriteRune(r)
			for br.Buffered() > 0 {
				r, _, err := br.ReadRune()
				if err != nil {
					break
				}
				sb.WriteRune(r)
			}
			select {
			case chunks <- sb.String():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-errc:
					if errors.Is(err, io.EOF) {
						return nil
					}
					return err
				default:
					return nil
				}
			}
			dst.Append(chunk)
		}
	}
}
