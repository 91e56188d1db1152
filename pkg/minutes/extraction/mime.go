package extraction

import (
	"mime"
	"path/filepath"
	"strings"
)

// Kind is how a file is extracted.
type Kind string

const (
	KindPDF         Kind = "pdf"
	KindDOCX        Kind = "docx"
	KindText        Kind = "text"
	KindVTT         Kind = "vtt"
	KindImage       Kind = "image"
	KindAudio       Kind = "audio"
	KindUnsupported Kind = "unsupported"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var extensionMIME = map[string]string{
	".pdf":  "application/pdf",
	".docx": docxMIME,
	".txt":  "text/plain",
	".md":   "text/markdown",
	".vtt":  "text/vtt",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// Classify picks the extraction kind for a MIME type. Generic types such as
// application/octet-stream fall back to the file extension.
func Classify(mimeType, name string) Kind {
	mt := normalizeMIME(mimeType)
	if mt == "" || mt == "application/octet-stream" || mt == "binary/octet-stream" {
		mt = extensionMIME[strings.ToLower(filepath.Ext(name))]
	}
	switch {
	case mt == "application/pdf":
		return KindPDF
	case mt == docxMIME:
		return KindDOCX
	case mt == "text/vtt":
		return KindVTT
	case mt == "text/plain", mt == "text/markdown", mt == "text/x-markdown":
		return KindText
	case mt == "image/png", mt == "image/jpeg", mt == "image/webp", mt == "image/gif":
		return KindImage
	case strings.HasPrefix(mt, "audio/"), mt == "video/mp4", mt == "video/webm":
		return KindAudio
	}
	return KindUnsupported
}

func normalizeMIME(s string) string {
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return mt
}

// MIMEForName guesses a MIME type from a filename, for uploads that omit one.
func MIMEForName(name string) string {
	if mt, ok := extensionMIME[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}
