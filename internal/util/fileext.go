package util

import (
	"bytes"
	"mime"
	"path"
	"strings"
)

// ExtSource tags where a chosen extension came from, for observability.
type ExtSource string

const (
	ExtSourceContentType  ExtSource = "content-type"
	ExtSourceMagic        ExtSource = "magic"
	ExtSourceZipHeuristic ExtSource = "zip-heuristic"
)

const mimeTypeUnknown = "application/octet-stream"

// CommonExtensions are the suffixes the portal is known to serve.
var CommonExtensions = []string{
	".pdf", ".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx",
	".zip", ".rar", ".7z", ".tar", ".gz",
	".txt", ".md", ".ipynb",
	".jpg", ".jpeg", ".png", ".gif", ".swf",
	".mp4", ".avi", ".mov", ".wmv", ".mpg", ".mpeg",
	".mp3", ".wav", ".ogg",
}

// Content-Type headers are sometimes generic, so the table stays small and
// explicit instead of trusting the platform mime database.
var mimeExtensions = map[string]string{
	"application/pdf":               ".pdf",
	"application/zip":               ".zip",
	"application/x-rar-compressed":  ".rar",
	"application/x-7z-compressed":   ".7z",
	"application/gzip":              ".gz",
	"application/x-gzip":            ".gz",
	"application/msword":            ".doc",
	"application/vnd.ms-powerpoint": ".ppt",
	"application/vnd.ms-excel":      ".xls",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"text/plain":    ".txt",
	"text/markdown": ".md",
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"audio/mpeg":    ".mp3",
	"video/mp4":     ".mp4",
}

type magicHit struct {
	sig  []byte
	mime string
	ext  string
}

// Leading bytes are the ground-truth fallback when headers are generic.
// Ordered so lookups are deterministic.
var magicPrefixes = []magicHit{
	{[]byte("%PDF-"), "application/pdf", ".pdf"},
	{[]byte("PK\x03\x04"), "application/zip", ".zip"}, // also docx/pptx/xlsx containers
	{[]byte("Rar!"), "application/x-rar-compressed", ".rar"},
	{[]byte("7z\xBC\xAF\x27\x1C"), "application/x-7z-compressed", ".7z"},
	{[]byte("\x1F\x8B\x08"), "application/gzip", ".gz"},
	{[]byte("\x89PNG\r\n\x1a\n"), "image/png", ".png"},
	{[]byte("\xff\xd8\xff"), "image/jpeg", ".jpg"},
	{[]byte("GIF87a"), "image/gif", ".gif"},
	{[]byte("GIF89a"), "image/gif", ".gif"},
	{[]byte("ID3"), "audio/mpeg", ".mp3"},
	{[]byte("\x00\x00\x00\x18ftyp"), "video/mp4", ".mp4"},
	{[]byte("ftypisom"), "video/mp4", ".mp4"},
	{[]byte("ftypmp42"), "video/mp4", ".mp4"},
}

var zipSignature = []byte("PK\x03\x04")

// HasKnownExtension reports whether name ends with one of CommonExtensions.
func HasKnownExtension(name string) bool {
	base := strings.ToLower(name)
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}

	for _, ext := range CommonExtensions {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}

	return false
}

// ExistingExtension returns the suffix of name if it looks like a real file
// extension: a dot followed by 2-6 lowercase alphanumeric characters. Spurious
// dots in titles do not qualify. Returns "" otherwise.
func ExistingExtension(name string) string {
	ext := path.Ext(strings.ToLower(strings.TrimSpace(name)))
	if ext == "" || len(ext) < 3 || len(ext) > 7 {
		return ""
	}

	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}

	return ext
}

// ExtensionForMIME maps a Content-Type header value to a known extension.
// Generic or unknown types yield "".
func ExtensionForMIME(contentType string) string {
	if contentType == "" {
		return ""
	}

	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	if mt == "" || mt == mimeTypeUnknown {
		return ""
	}

	return mimeExtensions[strings.ToLower(mt)]
}

// GuessFromMagic returns (mime, ext) if the leading bytes match a known
// signature.
func GuessFromMagic(head []byte) (string, string, bool) {
	for _, hit := range magicPrefixes {
		if bytes.HasPrefix(head, hit.sig) {
			return hit.mime, hit.ext, true
		}
	}

	return "", "", false
}

// ChooseExtension decides a better extension for filename from the response
// headers and leading bytes. Resolution order, first match wins: a plausible
// extension already present keeps the name unchanged, then the Content-Type
// table, then magic signatures, then the ZIP signature alone as a last-resort
// heuristic. The returned source tag tells which stage decided.
func ChooseExtension(filename, contentType string, head []byte) (string, ExtSource, bool) {
	if HasKnownExtension(filename) {
		return "", "", false
	}

	if ext := ExtensionForMIME(contentType); ext != "" {
		return ext, ExtSourceContentType, true
	}

	if _, ext, ok := GuessFromMagic(head); ok {
		return ext, ExtSourceMagic, true
	}

	if bytes.HasPrefix(head, zipSignature) {
		return ".zip", ExtSourceZipHeuristic, true
	}

	return "", "", false
}

// FilenameFromHeaders extracts a filename from a Content-Disposition header,
// handling the RFC 2231 filename* form. Returns "" if absent.
func FilenameFromHeaders(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}

	return params["filename"]
}
