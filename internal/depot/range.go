package depot

import (
	"fmt"
	"strconv"
	"strings"
)

// byteRange is an inclusive byte range within an object.
type byteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range covers.
func (r byteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the range for a Content-Range response header.
func (r byteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// parseRange parses a Range request header of the form "bytes=start-end".
// Both bounds are required; open-ended and suffix forms are rejected
// with ErrInvalidRange, and headers naming more than one range fail
// with ErrMultipartRangeNotSupported. Bounds are validated against the
// object size by checkRange, not here.
func parseRange(header string) (*byteRange, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, fmt.Errorf("range %q: missing bytes= prefix: %w", header, ErrInvalidRange)
	}
	if strings.Contains(spec, ",") {
		return nil, fmt.Errorf("range %q: %w", header, ErrMultipartRangeNotSupported)
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok || startStr == "" || endStr == "" {
		return nil, fmt.Errorf("range %q: both bounds are required: %w", header, ErrInvalidRange)
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("range %q: bad start: %w", header, ErrInvalidRange)
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return nil, fmt.Errorf("range %q: bad end: %w", header, ErrInvalidRange)
	}

	return &byteRange{Start: start, End: end}, nil
}

// checkRange reports whether the range is satisfiable for an object of
// the given size. The end bound is inclusive, so it must be strictly
// below size.
func checkRange(r *byteRange, size int64) bool {
	return r.Start < size && r.End < size
}
