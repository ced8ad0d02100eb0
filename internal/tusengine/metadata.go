package tusengine

import (
	"encoding/base64"
	"errors"
	"sort"
	"strings"
)

// ErrInvalidMetadata indicates the Upload-Metadata header is malformed:
// duplicate keys, a non-ASCII or empty key, a key containing space or comma,
// or a value that is not valid base64.
var ErrInvalidMetadata = errors.New("tusengine: invalid Upload-Metadata header")

// ParseUploadMetadata parses the Upload-Metadata creation header,
// comma-separated "<key> <base64value>" pairs, e.g.
//
//	Upload-Metadata: name bHVucmpzLnBuZw==,type aW1hZ2UvcG5n
//
// Unlike the reference handler, malformed elements are rejected rather than
// skipped: duplicate keys, keys with space/comma/non-ASCII bytes, and
// undecodable values all return ErrInvalidMetadata. A key with no value is
// permitted and decodes to the empty string.
func ParseUploadMetadata(header string) (map[string]string, error) {
	meta := make(map[string]string)
	if strings.TrimSpace(header) == "" {
		return meta, nil
	}

	for _, element := range strings.Split(header, ",") {
		element = strings.TrimSpace(element)
		if element == "" {
			return nil, ErrInvalidMetadata
		}

		parts := strings.SplitN(element, " ", 3)
		if len(parts) > 2 {
			return nil, ErrInvalidMetadata
		}

		key := parts[0]
		if key == "" || !isASCIIKey(key) {
			return nil, ErrInvalidMetadata
		}
		if _, dup := meta[key]; dup {
			return nil, ErrInvalidMetadata
		}

		value := ""
		if len(parts) == 2 {
			decoded, err := base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				return nil, ErrInvalidMetadata
			}
			value = string(decoded)
		}
		meta[key] = value
	}

	return meta, nil
}

// SerializeUploadMetadata renders meta back into Upload-Metadata header form
// for HEAD responses. Each value is sanitized (CR/LF/NUL stripped) before
// re-encoding; keys are emitted in sorted order so the header is stable.
func SerializeUploadMetadata(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		sanitized := sanitizeMetadataValue(meta[k])
		pairs[i] = k + " " + base64.StdEncoding.EncodeToString([]byte(sanitized))
	}
	return strings.Join(pairs, ",")
}

// sanitizeMetadataValue strips CR, LF and NUL from a stored metadata value
// before it is re-emitted in a response header.
func sanitizeMetadataValue(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', 0:
			return -1
		}
		return r
	}, v)
}

// isASCIIKey reports whether key is ASCII free of space and comma. It accepts
// the empty string; ParseUploadMetadata rejects empty keys before calling it.
func isASCIIKey(key string) bool {
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 0x80 || c == ' ' || c == ',' {
			return false
		}
	}
	return true
}
