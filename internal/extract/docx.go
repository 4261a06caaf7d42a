package extract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// extractDOCX walks word/document.xml. Regular paragraphs become lines;
// table rows become their cell texts joined with " | ".
func extractDOCX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer zr.Close()

	var doc io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("open document.xml: %w", err)
			}
			break
		}
	}
	if doc == nil {
		return "", errors.New("docx: missing word/document.xml")
	}
	defer doc.Close()

	dec := xml.NewDecoder(doc)

	var (
		parts   []string
		para    strings.Builder
		cell    strings.Builder
		row     []string
		inText  bool
		inTable int
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tbl":
				inTable++
			case "tr":
				row = row[:0]
			case "tc":
				cell.Reset()
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if inTable == 0 {
					if s := strings.TrimSpace(para.String()); s != "" {
						parts = append(parts, s)
					}
					para.Reset()
				}
			case "tc":
				row = append(row, strings.TrimSpace(cell.String()))
			case "tr":
				if line := strings.TrimSpace(strings.Join(row, " | ")); line != "" {
					parts = append(parts, line)
				}
			case "tbl":
				inTable--
			}
		case xml.CharData:
			if !inText {
				continue
			}
			if inTable > 0 {
				cell.Write(t)
			} else {
				para.Write(t)
			}
		}
	}

	return strings.Join(parts, "\n"), nil
}
