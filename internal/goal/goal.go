// Package goal loads research goals from plain-text or PDF documents.
package goal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const maxGoalSize = 1 << 20 // 1MB

// ErrEmpty is returned when a document holds no goal text.
var ErrEmpty = errors.New("goal document is empty")

// Read returns the goal text stored at path. Files ending in .pdf are run
// through text extraction; anything else is read as UTF-8 text.
func Read(path string) (string, error) {
	var (
		text string
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err = readPDF(path)
	} else {
		text, err = readText(path)
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return text, nil
}

func readText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening goal file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxGoalSize+1))
	if err != nil {
		return "", fmt.Errorf("reading goal file: %w", err)
	}
	if len(data) > maxGoalSize {
		return "", fmt.Errorf("goal file %s exceeds %d bytes", path, maxGoalSize)
	}
	return string(data), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if f != nil {
		defer f.Close()
	}
	if err != nil {
		return "", fmt.Errorf("opening goal pdf: %w", err)
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(plain, maxGoalSize)); err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	// Extraction yields layout whitespace between text runs.
	return strings.Join(strings.Fields(buf.String()), " "), nil
}
