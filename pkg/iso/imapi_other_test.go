//go:build !windows

package iso

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildNativeRequiresWindows(t *testing.T) {
	err := BuildNative(filepath.Join(t.TempDir(), "answer.iso"), "ANSWER", []File{
		{Name: "autounattend.xml", Content: []byte("<unattend/>")},
	})
	assert.ErrorContains(t, err, "Windows")
}
