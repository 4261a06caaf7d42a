package extract

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name     string
		fileType string
		head     []byte
		wantErr  string
	}{
		{"pdf magic", "pdf", []byte("%PDF-1.7 rest of header"), ""},
		{"txt plain", "txt", []byte("just some text content"), ""},
		{"md plain", "md", []byte("# heading\n\nbody"), ""},
		{"docx zip magic", "docx", []byte("PK\x03\x04rest"), ""},
		{"pdf claiming txt", "txt", []byte("%PDF-1.7 binary"), "does not match extension '.txt'"},
		{"zip claiming pdf", "pdf", []byte("PK\x03\x04rest"), "does not match extension '.pdf'"},
		{"text claiming docx", "docx", []byte("plain old text here"), "does not match extension '.docx'"},
		{"unsupported type", "exe", []byte("MZ"), "Unsupported file type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.fileType, tt.head)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAllowedType(t *testing.T) {
	for _, ft := range []string{"pdf", "docx", "txt", "md"} {
		if !AllowedType(ft) {
			t.Errorf("AllowedType(%q) = false", ft)
		}
	}
	for _, ft := range []string{"exe", "png", ""} {
		if AllowedType(ft) {
			t.Errorf("AllowedType(%q) = true", ft)
		}
	}
}

func TestExtractTextPlain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	content := "# Title\n\nSome notes."
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := ExtractText(path, "md")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if got != content {
		t.Errorf("got %q, want %q", got, content)
	}
}

func writeDocx(t *testing.T, documentXML string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractDOCXParagraphsAndTables(t *testing.T) {
	doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Name</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>Value</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
  </w:body>
</w:document>`
	got, err := ExtractText(writeDocx(t, doc), "docx")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	want := "First paragraph.\nSecond paragraph.\nName | Value"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractDOCXMissingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	zw.Close()
	f.Close()

	if _, err := ExtractText(path, "docx"); err == nil {
		t.Error("expected error for docx without document.xml")
	}
}
