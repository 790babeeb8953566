package constants

import "strings"

// Formats accepted by the conversion pipeline.
const (
	DOCX   = "DOCX"
	PDF    = "PDF"
	SHEET  = "SHEET"
	CSV    = "CSV"
	TXT    = "TXT"
	LEDGER = "LEDGER"
)

// AllowedExtensions holds the default allowed file extensions for ingestion.
var AllowedExtensions = map[string]struct{}{
	"docx": {},
	"doc":  {},
	"pdf":  {},
	"xlsx": {},
	"xls":  {},
	"csv":  {},
	"txt":  {},
	"md":   {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat maps a file extension to its conversion format.
// Returns "" for unsupported extensions.
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "docx", "doc":
		return DOCX
	case "pdf":
		return PDF
	case "xlsx", "xls":
		return SHEET
	case "csv":
		return CSV
	case "txt", "md":
		return TXT
	default:
		return ""
	}
}
