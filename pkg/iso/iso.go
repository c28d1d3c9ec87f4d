// Package iso builds the small answer-file ISOs attached to guests as
// their second DVD drive. Windows Setup scans attached media for
// autounattend.xml at the root.
package iso

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kdomanski/iso9660"
)

// File is one entry placed at the image root.
type File struct {
	Name    string
	Content []byte
}

// DefaultLabel is used when the caller passes an empty volume label.
const DefaultLabel = "ANSWER"

// Build writes an ISO 9660 image containing the given files to path.
// The parent directory is created if missing.
func Build(path, label string, files []File) error {
	if len(files) == 0 {
		return fmt.Errorf("answer image needs at least one file")
	}
	if label == "" {
		label = DefaultLabel
	}

	w, err := iso9660.NewWriter()
	if err != nil {
		return fmt.Errorf("failed to create image writer: %w", err)
	}
	defer w.Cleanup()

	for _, f := range files {
		if f.Name == "" {
			return fmt.Errorf("image file with empty name")
		}
		if err := w.AddFile(bytes.NewReader(f.Content), f.Name); err != nil {
			return fmt.Errorf("failed to add %s to image: %w", f.Name, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer out.Close()

	if err := w.WriteTo(out, label); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return out.Close()
}
