//go:build !windows

package iso

import "fmt"

// BuildNative authors the image through the IMAPI2FS COM API, which
// only exists on Windows; elsewhere the portable Build is the only
// writer.
func BuildNative(path, label string, files []File) error {
	return fmt.Errorf("native IMAPI authoring requires a Windows host")
}
