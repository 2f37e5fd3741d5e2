// Package iox holds the I/O helpers shared by the transports and the
// local store: bounded reads and close-and-forget cleanup.
package iox

import (
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge is returned by ReadAllLimit when the input exceeds the limit.
var ErrTooLarge = errors.New("payload too large")

// drainLimit caps how much of an unread body DrainClose consumes.
const drainLimit = 64 << 10

// DiscardClose closes c and discards the error.
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainClose reads what is left of rc, up to a small cap, and closes it.
// An HTTP response body drained this way lets the client reuse the
// connection.
//
//	defer iox.DrainClose(resp.Body)
func DrainClose(rc io.ReadCloser) {
	_, _ = io.CopyN(io.Discard, rc, drainLimit)
	_ = rc.Close()
}

// CloseFunc returns a cleanup function that closes c, for t.Cleanup.
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// ReadAllLimit reads r to EOF but fails with ErrTooLarge once more than
// limit bytes arrive. A non-positive limit reads without bound.
func ReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
