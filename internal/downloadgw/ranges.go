package downloadgw

import (
	"strconv"
	"strings"
)

// byteRange is an inclusive [Start, End] request against an object of known
// total size.
type byteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range covers.
func (r byteRange) Length() int64 {
	return r.End - r.Start + 1
}

// parseRangeHeader parses a single-range Range header (bytes=a-b, bytes=a-,
// bytes=-n) against total. A malformed or unsatisfiable header returns nil,
// which callers treat as "serve the full object". Multi-range requests are
// not supported and also fall back to the full object.
func parseRangeHeader(header string, total int64) *byteRange {
	if header == "" || total <= 0 {
		return nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil
	}

	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return nil
	}

	if first == "" {
		// bytes=-n: the final n bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return nil
		}
		start := total - n
		if start < 0 {
			start = 0
		}
		return &byteRange{Start: start, End: total - 1}
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= total {
		return nil
	}

	if last == "" {
		// bytes=a-: from a to the end.
		return &byteRange{Start: start, End: total - 1}
	}

	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return nil
	}
	if end > total-1 {
		end = total - 1
	}
	return &byteRange{Start: start, End: end}
}
