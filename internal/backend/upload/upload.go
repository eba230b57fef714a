package upload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Upload is an image submitted with a testimonial. It only lives for the
// duration of one ValidateAndStore call.
type Upload struct {
	// Name is the file name declared by the client.
	Name string
	// Size is the byte size declared by the client.
	Size int64
	// Open returns the temporary content.
	Open func() (io.ReadCloser, error)
}

// IsEmpty reports whether no image was declared.
func (u *Upload) IsEmpty() bool {
	return u == nil || u.Name == "" || u.Open == nil
}

// FromBytes wraps in-memory content as an upload.
func FromBytes(name string, data []byte) *Upload {
	return &Upload{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FromFile wraps a file on disk, typically a temporary upload, as an upload
// named after the file.
func FromFile(path string) (*Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat upload %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("upload %s is a directory", path)
	}
	return &Upload{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}
