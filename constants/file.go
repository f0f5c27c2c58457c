package constants

import "strings"

// FileType is the document format recorded at intake.
type FileType string

const (
	FileTypePDF FileType = "pdf"
	FileTypeJPG FileType = "jpg"
	FileTypePNG FileType = "png"
)

// Source is the channel the document arrived through.
type Source string

const (
	SourceUpload Source = "upload"
	SourceEmail  Source = "email"
	SourceSMS    Source = "sms"
)

// AllowedMIMETypes maps upload content types to their file type.
var AllowedMIMETypes = map[string]FileType{
	"application/pdf": FileTypePDF,
	"image/jpeg":      FileTypeJPG,
	"image/png":       FileTypePNG,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFileType maps a normalized extension to a FileType.
// Returns "" for unsupported extensions.
func MapExtToFileType(ext string) FileType {
	switch NormalizeExt(ext) {
	case "pdf":
		return FileTypePDF
	case "jpg", "jpeg":
		return FileTypeJPG
	case "png":
		return FileTypePNG
	}
	return ""
}

// IsValidSource reports whether s is a known intake channel.
func IsValidSource(s Source) bool {
	switch s {
	case SourceUpload, SourceEmail, SourceSMS:
		return true
	}
	return false
}
