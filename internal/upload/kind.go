// Package upload stages, validates, and ships outbound chat attachments.
package upload

import (
	"fmt"
	"strings"
)

// Kind is an attachment category. It drives size limits, preview behavior,
// and how the receiving client renders the attachment.
type Kind string

const (
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

// Label returns the human-facing name for a kind.
func (k Kind) Label() string {
	switch k {
	case KindImage:
		return "Photo"
	case KindAudio:
		return "Audio"
	default:
		return "Document"
	}
}

// RejectionClass buckets validation failures for the UI.
type RejectionClass string

const (
	RejectUnsupportedFormat RejectionClass = "unsupported_format"
	RejectTooLarge          RejectionClass = "too_large"
	RejectUnsupportedType   RejectionClass = "unsupported_type"
)

// Rejection is a structured validation failure. It is always recoverable:
// the caller may simply pick a different file.
type Rejection struct {
	Class   RejectionClass
	Message string
}

func (r *Rejection) Error() string { return r.Message }

// Allow-lists. A MIME type of the right family but outside these maps is an
// unsupported format, not an unsupported file type: the family is right, the
// encoding is not.
var imageMIMEToExt = map[string]string{
	"image/jpg":   "jpg",
	"image/jpeg":  "jpg",
	"image/pjpeg": "jpg",
	"image/png":   "png",
	"image/webp":  "webp",
	"image/gif":   "gif",
	"image/avif":  "avif",
	"image/heic":  "heic",
	"image/heif":  "heif",
}

var audioMIMEToExt = map[string]string{
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/wav":    "wav",
	"audio/x-wav":  "wav",
	"audio/ogg":    "ogg",
	"audio/mp4":    "m4a",
	"audio/x-m4a":  "m4a",
	"audio/aac":    "aac",
	"audio/flac":   "flac",
	"audio/x-flac": "flac",
	"audio/webm":   "webm",
}

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "webp": true,
	"gif": true, "avif": true, "heic": true, "heif": true,
}

var audioExtensions = map[string]bool{
	"mp3": true, "wav": true, "ogg": true, "m4a": true,
	"aac": true, "flac": true, "webm": true,
}

var documentExtensions = map[string]bool{
	"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true,
	"ppt": true, "pptx": true, "csv": true, "txt": true, "rtf": true,
}

var documentMIMETypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-powerpoint":                                     true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"text/plain":      true,
	"text/csv":        true,
	"application/rtf": true,
	"text/rtf":        true,
}

// Extension extracts a lowercase filename extension, stripping query and
// fragment noise that sneaks in when names come from URLs.
func Extension(name string) string {
	clean := name
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	if i := strings.LastIndex(clean, "/"); i >= 0 {
		clean = clean[i+1:]
	}
	i := strings.LastIndex(clean, ".")
	if i < 0 || i == len(clean)-1 {
		return ""
	}
	return strings.ToLower(clean[i+1:])
}

// SafeExtension picks the storage extension for a file: the allow-listed
// MIME mapping when available, otherwise the (allow-listed) filename
// extension. Returns "" when neither is usable.
func SafeExtension(name, mimeType string, kind Kind) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch kind {
	case KindImage:
		if ext, ok := imageMIMEToExt[mimeType]; ok {
			return ext
		}
	case KindAudio:
		if ext, ok := audioMIMEToExt[mimeType]; ok {
			return ext
		}
	}
	ext := Extension(name)
	if ext == "jpeg" {
		ext = "jpg"
	}
	switch kind {
	case KindImage:
		if imageExtensions[ext] {
			return ext
		}
	case KindAudio:
		if audioExtensions[ext] {
			return ext
		}
	case KindDocument:
		if documentExtensions[ext] {
			return ext
		}
	}
	return ""
}

// KindFromPath classifies a stored attachment path for display. Unknown
// extensions render as documents, the safest fallback.
func KindFromPath(path string) Kind {
	ext := Extension(path)
	switch {
	case imageExtensions[ext]:
		return KindImage
	case audioExtensions[ext]:
		return KindAudio
	default:
		return KindDocument
	}
}

// Limits are the per-kind size ceilings in bytes.
type Limits struct {
	MaxImageBytes    int64
	MaxAudioBytes    int64
	MaxDocumentBytes int64
}

// DefaultLimits mirror the service-side upload caps.
var DefaultLimits = Limits{
	MaxImageBytes:    10 << 20,
	MaxAudioBytes:    25 << 20,
	MaxDocumentBytes: 20 << 20,
}

func (l Limits) forKind(kind Kind) int64 {
	switch kind {
	case KindImage:
		return l.MaxImageBytes
	case KindAudio:
		return l.MaxAudioBytes
	default:
		return l.MaxDocumentBytes
	}
}

// Validate classifies a file by declared MIME type, falling back to the
// filename extension, and enforces the kind's size ceiling. The returned
// error, when non-nil, is always a *Rejection.
func Validate(name, mimeType string, size int64, limits Limits) (Kind, error) {
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	ext := Extension(name)

	var kind Kind
	switch {
	case strings.HasPrefix(mime, "image/"):
		kind = KindImage
		if _, ok := imageMIMEToExt[mime]; !ok && !imageExtensions[ext] {
			return kind, unsupportedFormat(kind)
		}
	case strings.HasPrefix(mime, "audio/"):
		kind = KindAudio
		if _, ok := audioMIMEToExt[mime]; !ok && !audioExtensions[ext] {
			return kind, unsupportedFormat(kind)
		}
	case documentMIMETypes[mime]:
		kind = KindDocument
	case imageExtensions[ext]:
		kind = KindImage
	case audioExtensions[ext]:
		kind = KindAudio
	case documentExtensions[ext]:
		kind = KindDocument
	default:
		return "", &Rejection{
			Class:   RejectUnsupportedType,
			Message: "Unsupported file type. Please choose an image, audio file, or document.",
		}
	}

	if max := limits.forKind(kind); max > 0 && size > max {
		return kind, &Rejection{
			Class: RejectTooLarge,
			Message: fmt.Sprintf("That %s is too large (max %s). Try a smaller file.",
				strings.ToLower(kind.Label()), FormatSize(max)),
		}
	}
	return kind, nil
}

func unsupportedFormat(kind Kind) *Rejection {
	return &Rejection{
		Class:   RejectUnsupportedFormat,
		Message: fmt.Sprintf("Unsupported %s format.", strings.ToLower(kind.Label())),
	}
}

// FormatSize renders a byte count for humans ("2.0 MB").
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
