package extraction

import "strings"

// PlainTextStrategy handles text/plain and text/html-ish content by
// passing bytes through as-is (HTML tag stripping is left to upstream
// content normalization, matching page bodies already arriving as
// rendered storage-format text in this corpus).
type PlainTextStrategy struct{}

func (PlainTextStrategy) Name() string { return "plaintext" }

func (PlainTextStrategy) Supports(info Info) bool {
	ct := strings.ToLower(info.ContentType)
	return strings.HasPrefix(ct, "text/") || ct == ""
}

func (PlainTextStrategy) Extract(info Info, data []byte) (string, error) {
	return string(data), nil
}
