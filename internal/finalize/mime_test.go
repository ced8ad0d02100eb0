package finalize

import "testing"

func TestNormalizeMime(t *testing.T) {
	cases := map[string]string{
		"image/jpg":                   "image/jpeg",
		"IMAGE/JPEG":                  "image/jpeg",
		"video/x-matroska":             "video/x-matroska",
		"video/matroska":               "video/x-matroska",
		"application/x-zip-compressed": "application/zip",
		"application/octet-stream":     "application/octet-stream",
		"  application/zip  ":          "application/zip",
	}
	for in, want := range cases {
		if got := normalizeMime(in); got != want {
			t.Errorf("normalizeMime(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeMime_Idempotent(t *testing.T) {
	for _, class := range mimeEquivalenceClasses {
		for _, alias := range class {
			once := normalizeMime(alias)
			twice := normalizeMime(once)
			if once != twice {
				t.Errorf("normalize(normalize(%q)) = %q, want %q", alias, twice, once)
			}
		}
	}
}

func TestMimeEquivalent_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"image/jpg", "image/jpeg"},
		{"video/x-matroska", "video/matroska"},
		{"application/zip", "application/x-zip-compressed"},
	}
	for _, pair := range pairs {
		if !mimeEquivalent(pair[0], pair[1]) {
			t.Errorf("expected %q equivalent to %q", pair[0], pair[1])
		}
		if !mimeEquivalent(pair[1], pair[0]) {
			t.Errorf("expected %q equivalent to %q", pair[1], pair[0])
		}
	}
}

func TestMimeEquivalent_DistinctTypesNotEqual(t *testing.T) {
	if mimeEquivalent("image/png", "image/jpeg") {
		t.Error("image/png should not be equivalent to image/jpeg")
	}
}
