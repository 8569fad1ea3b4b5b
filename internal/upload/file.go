package upload

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
)

// File is one file handed to a surface by drop, paste or picker.
type File struct {
	Name string
	// Type is the MIME type, possibly empty.
	Type string
	Size int64
	Data io.ReaderAt
}

// NewFileFromBytes wraps data as a File.
func NewFileFromBytes(name, mimeType string, data []byte) File {
	return File{Name: name, Type: mimeType, Size: int64(len(data)), Data: bytes.NewReader(data)}
}

// OpenFile opens path as a File. The caller closes the returned file.
func OpenFile(path string) (File, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return File{}, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return File{}, nil, fmt.Errorf("%s is a directory", path)
	}

	name := filepath.Base(path)
	return File{
		Name: name,
		Type: mime.TypeByExtension(filepath.Ext(name)),
		Size: info.Size(),
		Data: f,
	}, f, nil
}

// Reader returns a reader over the file's bytes starting at offset.
func (f File) Reader(offset int64) *io.SectionReader {
	return io.NewSectionReader(f.Data, offset, f.Size-offset)
}

// Fingerprint derives a stable id from the file's name, size, type and
// content. Identical files dropped twice produce the same fingerprint.
func Fingerprint(f File) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(f.Size))
	h.Write([]byte(f.Name))
	h.Write([]byte{0})
	h.Write([]byte(f.Type))
	h.Write([]byte{0})
	h.Write(size[:])

	if f.Data != nil {
		if _, err := io.Copy(h, f.Reader(0)); err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", f.Name, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
