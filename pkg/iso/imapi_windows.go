//go:build windows

package iso

import (
	"fmt"
	"os"
	"path/filepath"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

// BuildNative authors the image through IMAPI2FS instead of the portable
// writer. Some Windows Setup builds are picky about Joliet names on the
// answer media; IMAPI produces exactly what Setup expects.
func BuildNative(path, label string, files []File) error {
	if len(files) == 0 {
		return fmt.Errorf("answer image needs at least one file")
	}
	if label == "" {
		label = DefaultLabel
	}

	// IMAPI AddTree wants a directory on disk, so stage the files first.
	staging, err := os.MkdirTemp("", "hvc-iso-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(staging, f.Name), f.Content, 0o644); err != nil {
			return fmt.Errorf("failed to stage %s: %w", f.Name, err)
		}
	}

	if err := ole.CoInitialize(0); err != nil {
		oleErr, ok := err.(*ole.OleError)
		// S_FALSE means the thread was already initialized.
		if !ok || oleErr.Code() != 1 {
			return fmt.Errorf("failed to initialize COM: %w", err)
		}
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject("IMAPI2FS.MsftFileSystemImage")
	if err != nil {
		return fmt.Errorf("failed to create IMAPI image object: %w", err)
	}
	defer unknown.Release()
	fsi, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("failed to query IMAPI dispatch: %w", err)
	}
	defer fsi.Release()

	// 1=ISO9660, 2=Joliet; Setup reads either, author both.
	if _, err := oleutil.PutProperty(fsi, "FileSystemsToCreate", 3); err != nil {
		return fmt.Errorf("failed to set image filesystems: %w", err)
	}
	if _, err := oleutil.PutProperty(fsi, "VolumeName", label); err != nil {
		return fmt.Errorf("failed to set volume label: %w", err)
	}

	rootVar, err := oleutil.GetProperty(fsi, "Root")
	if err != nil {
		return fmt.Errorf("failed to get image root: %w", err)
	}
	root := rootVar.ToIDispatch()
	defer root.Release()
	if _, err := oleutil.CallMethod(root, "AddTree", staging, false); err != nil {
		return fmt.Errorf("failed to add files to image: %w", err)
	}

	resultVar, err := oleutil.CallMethod(fsi, "CreateResultImage")
	if err != nil {
		return fmt.Errorf("failed to create result image: %w", err)
	}
	result := resultVar.ToIDispatch()
	defer result.Release()
	streamVar, err := oleutil.GetProperty(result, "ImageStream")
	if err != nil {
		return fmt.Errorf("failed to get image stream: %w", err)
	}

	return writeImageStream(streamVar, path)
}

// writeImageStream copies the IMAPI IStream to disk through ADODB, the
// documented way to persist a result image without native stream glue.
func writeImageStream(stream *ole.VARIANT, path string) error {
	unknown, err := oleutil.CreateObject("ADODB.Stream")
	if err != nil {
		return fmt.Errorf("failed to create ADODB stream: %w", err)
	}
	defer unknown.Release()
	ado, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("failed to query ADODB dispatch: %w", err)
	}
	defer ado.Release()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}

	// adTypeBinary
	if _, err := oleutil.PutProperty(ado, "Type", 1); err != nil {
		return fmt.Errorf("failed to set stream type: %w", err)
	}
	if _, err := oleutil.CallMethod(ado, "Open"); err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer oleutil.CallMethod(ado, "Close") //nolint:errcheck
	if _, err := oleutil.CallMethod(ado, "Write", stream); err != nil {
		return fmt.Errorf("failed to copy image stream: %w", err)
	}
	// adSaveCreateOverWrite
	if _, err := oleutil.CallMethod(ado, "SaveToFile", path, 2); err != nil {
		return fmt.Errorf("failed to save image to %s: %w", path, err)
	}
	return nil
}
