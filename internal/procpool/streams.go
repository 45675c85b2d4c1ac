// SPDX-License-Identifier: MIT

package procpool

import (
	"io"
)

// StderrTailLimit bounds diagnostic stderr capture.
const StderrTailLimit = 64 * 1024

// ReadLimit reads r to EOF, keeping at most max bytes of the head and
// discarding the remainder. Draining past the limit is required: a full pipe
// buffer would otherwise deadlock the child.
func ReadLimit(r io.Reader, max int) ([]byte, error) {
	head := make([]byte, 0, min(max, 4096))
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 && len(head) < max {
			take := n
			if take > max-len(head) {
				take = max - len(head)
			}
			head = append(head, buf[:take]...)
		}
		if err != nil {
			if err == io.EOF {
				return head, nil
			}
			return head, err
		}
	}
}

// ReadAllLimit reads r to EOF, accumulating up to max bytes. It reports
// overflow instead of silently discarding, for callers that must fail when
// output exceeds a bound.
func ReadAllLimit(r io.Reader, max int) (data []byte, overflow bool, err error) {
	limited := io.LimitReader(r, int64(max)+1)
	data, err = io.ReadAll(limited)
	if err != nil {
		return nil, false, err
	}
	if len(data) > max {
		// Keep draining so the child can exit.
		_, _ = io.Copy(io.Discard, r)
		return nil, true, nil
	}
	return data, false, nil
}

// Drain consumes r to EOF, discarding everything. Used on streams the caller
// does not need but must not leave blocked.
func Drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
