package finalize

import "strings"

// mimeEquivalenceClasses groups MIME types the finalizer treats as the same
// content family. Each inner slice is one equivalence class; normalize
// canonicalizes to the class's first member.
var mimeEquivalenceClasses = [][]string{
	{"image/jpeg", "image/jpg", "image/pjpeg"},
	{"video/x-matroska", "video/matroska"},
	{"application/zip", "application/x-zip-compressed"},
	{"audio/mpeg", "audio/mp3", "audio/x-mpeg"},
	{"audio/mp4", "audio/x-m4a"},
	{"font/ttf", "application/x-font-ttf", "application/font-sfnt"},
	{"font/otf", "application/x-font-otf"},
	{"font/woff", "application/font-woff"},
	{"font/woff2", "application/font-woff2"},
	{"text/plain", "text/plain; charset=utf-8"},
}

var canonicalByAlias map[string]string

func init() {
	canonicalByAlias = make(map[string]string)
	for _, class := range mimeEquivalenceClasses {
		canonical := class[0]
		for _, alias := range class {
			canonicalByAlias[alias] = canonical
		}
	}
}

// normalizeMime canonicalizes mimeType through the equivalence table. An
// unrecognized type is lowercased and returned unchanged (it is its own
// equivalence class of one). normalize is idempotent and equiv is symmetric
// by construction, since both sides resolve through the same map.
func normalizeMime(mimeType string) string {
	lowered := strings.ToLower(strings.TrimSpace(mimeType))
	if canonical, ok := canonicalByAlias[lowered]; ok {
		return canonical
	}
	return lowered
}

// mimeEquivalent reports whether a and b normalize to the same canonical
// MIME type.
func mimeEquivalent(a, b string) bool {
	return normalizeMime(a) == normalizeMime(b)
}
