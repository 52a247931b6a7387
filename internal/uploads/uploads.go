// Package uploads stores user-submitted images under their content hash so
// repeat uploads of the same file dedupe to one object. Real blob storage is
// an external collaborator; this keeps a local directory served under /cdn/.
package uploads

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
)

const maxImageBytes = 8 << 20 // 8 MiB

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type Store struct {
	dir   string
	mutex sync.Mutex
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// SaveImage reads the named multipart file field, verifies it is an image we
// serve, and writes it under its sha256 hash. Returns http.ErrMissingFile
// unchanged when the field is absent so callers can treat it as optional.
func (s *Store) SaveImage(r *http.Request, field string) (string, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return "", err
	}
	defer file.Close()

	inputBytes, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return "", err
	}
	if len(inputBytes) > maxImageBytes {
		return "", fmt.Errorf("image exceeds the %d byte limit", maxImageBytes)
	}

	contentType := http.DetectContentType(inputBytes)
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("unsupported image type %s", contentType)
	}

	hash := sha256.Sum256(inputBytes)
	fileName := hex.EncodeToString(hash[:]) + ext
	fullPath := filepath.Join(s.dir, fileName)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.MkdirAll(s.dir, os.ModePerm); err != nil {
		return "", err
	}

	// same hash means the exact bytes are already stored
	_, err = os.Stat(fullPath)
	if os.IsNotExist(err) {
		if err := os.WriteFile(fullPath, inputBytes, 0644); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	return fileName, nil
}
