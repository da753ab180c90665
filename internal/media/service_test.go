package media

import "testing"

func TestIsImage(t *testing.T) {
	cases := map[string]bool{
		"image/jpeg":      true,
		"image/png":       true,
		"image/webp":      true,
		"application/pdf": false,
		"text/plain":      false,
	}
	for mime, want := range cases {
		if got := isImage(mime); got != want {
			t.Errorf("isImage(%q) = %v, want %v", mime, got, want)
		}
	}
}

func TestConfig_MaxUploadBytes(t *testing.T) {
	if got := (Config{}).maxUploadBytes(); got != 100*1024*1024 {
		t.Errorf("default maxUploadBytes = %d, want 100MB", got)
	}
	if got := (Config{MaxUploadMB: 50}).maxUploadBytes(); got != 50*1024*1024 {
		t.Errorf("custom maxUploadBytes = %d, want 50MB", got)
	}
}
