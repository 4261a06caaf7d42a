// Package extract pulls plain text out of uploaded knowledge files.
// Supported types: pdf, docx, txt, md.
package extract

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/nextlevelbuilder/across/internal/store"
)

// SniffLen is how many leading bytes feed content-type detection.
const SniffLen = 512

// allowedMIMEs maps file type to acceptable sniffed content types.
// docx files are zip containers, so they sniff as application/zip.
var allowedMIMEs = map[string][]string{
	"pdf":  {"application/pdf"},
	"docx": {"application/zip", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	"txt":  {"text/plain"},
	"md":   {"text/plain", "text/markdown", "text/html"},
}

// AllowedType reports whether fileType is a supported upload type.
func AllowedType(fileType string) bool {
	_, ok := allowedMIMEs[fileType]
	return ok
}

// ValidateContent sniffs head and rejects files whose content does not
// match the claimed extension.
func ValidateContent(fileType string, head []byte) error {
	allowed, ok := allowedMIMEs[fileType]
	if !ok {
		return store.NewValidation("Unsupported file type: %s", fileType)
	}

	detected := http.DetectContentType(head)
	if i := strings.Index(detected, ";"); i >= 0 {
		detected = detected[:i]
	}
	for _, mime := range allowed {
		if detected == mime {
			return nil
		}
	}
	return store.NewValidation("File content does not match extension '.%s'. Detected: %s", fileType, detected)
}

// ExtractText reads the file at path and returns its plain text.
func ExtractText(path, fileType string) (string, error) {
	switch fileType {
	case "pdf":
		return extractPDF(path)
	case "docx":
		return extractDOCX(path)
	case "txt", "md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", fileType, err)
		}
		return string(data), nil
	default:
		return "", store.NewValidation("Unsupported file type: %s", fileType)
	}
}

// extractPDF joins per-page text with blank lines.
func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // skip unreadable pages, keep the rest
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
