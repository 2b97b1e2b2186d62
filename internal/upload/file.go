package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// File is a local file handle queued for upload.
type File interface {
	Name() string
	ContentType() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type localFile struct {
	path        string
	name        string
	contentType string
	size        int64
}

// OpenLocal stats a file on disk. The content type is guessed from the
// extension and is empty when unknown.
func OpenLocal(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &localFile{
		path:        path,
		name:        filepath.Base(path),
		contentType: mime.TypeByExtension(filepath.Ext(path)),
		size:        info.Size(),
	}, nil
}

func (f *localFile) Name() string        { return f.name }
func (f *localFile) ContentType() string { return f.contentType }
func (f *localFile) Size() int64         { return f.size }

func (f *localFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

type memoryFile struct {
	name        string
	contentType string
	data        []byte
}

// NewMemoryFile wraps bytes already held in memory, such as a multipart part.
func NewMemoryFile(name, contentType string, data []byte) File {
	return &memoryFile{name: name, contentType: contentType, data: data}
}

func (f *memoryFile) Name() string        { return f.name }
func (f *memoryFile) ContentType() string { return f.contentType }
func (f *memoryFile) Size() int64         { return int64(len(f.data)) }

func (f *memoryFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
