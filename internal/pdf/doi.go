// Package pdf reads front-page text from source PDFs.
package pdf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/medparse/medparse/internal/textnorm"
)

// ErrNotFound indicates no candidate PDF exists under the root.
var ErrNotFound = errors.New("PDF not found")

// DefaultPages is how many leading pages are scanned when none is configured.
const DefaultPages = 2

// Locator resolves source PDF names against a root directory.
type Locator struct {
	root string
}

// NewLocator creates a Locator. An empty root disables lookups.
func NewLocator(root string) *Locator {
	return &Locator{root: root}
}

// Enabled reports whether a root is configured.
func (l *Locator) Enabled() bool {
	return l != nil && l.root != ""
}

// Resolve returns the first candidate name that exists under the root.
func (l *Locator) Resolve(candidates ...string) (string, error) {
	if !l.Enabled() {
		return "", fmt.Errorf("%w: pdf_root not configured", ErrNotFound)
	}
	for _, name := range candidates {
		if name == "" {
			continue
		}
		full := filepath.Join(l.root, filepath.Base(name))
		info, err := os.Stat(full)
		if err == nil && !info.IsDir() {
			return full, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("checking PDF %s: %w", full, err)
		}
	}
	return "", fmt.Errorf("%w: tried %s under %s", ErrNotFound, strings.Join(candidates, ", "), l.root)
}

// ExtractDOI returns the first DOI found on the first maxPages pages, or ""
// when there is none.
func ExtractDOI(filePath string, maxPages int) (string, error) {
	text, err := ExtractText(filePath, maxPages)
	if err != nil {
		return "", err
	}
	return textnorm.FindDOI(text), nil
}

// ExtractText extracts the plain text of the first maxPages pages.
func ExtractText(filePath string, maxPages int) (string, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer f.Close()
	return pagesText(r, maxPages), nil
}

// ExtractTextReader extracts text from an in-memory PDF.
func ExtractTextReader(r io.ReaderAt, size int64, maxPages int) (string, error) {
	pdfReader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", err
	}
	return pagesText(pdfReader, maxPages), nil
}

func pagesText(r *pdf.Reader, maxPages int) string {
	if maxPages <= 0 {
		maxPages = DefaultPages
	}
	if maxPages > r.NumPage() {
		maxPages = r.NumPage()
	}

	var builder strings.Builder
	for i := 1; i <= maxPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		// unreadable pages are skipped, not fatal
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String()
}
