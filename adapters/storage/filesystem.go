package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/ditado/domain/repositories"
)

var audioContentTypes = map[string]string{
	".3gp":  "audio/3gpp",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".webm": "audio/webm",
}

// ContentType guesses the MIME type of a media file from its extension
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := audioContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// FileStore is the media directory on local disk
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// Ensure FileStore implements the MediaStore interface
var _ repositories.MediaStore = (*FileStore)(nil)

// NewFileStore creates the media directory if needed
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("media directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid media file name %q", name)
	}
	return nil
}

// ReadDataURL reads name as data:<mime>;base64,<payload>
func (s *FileStore) ReadDataURL(name string) (string, error) {
	data, err := s.ReadFile(name)
	if err != nil {
		return "", err
	}
	return "data:" + ContentType(name) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (s *FileStore) ReadFile(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read media file: %w", err)
	}
	return data, nil
}

// WriteFile writes to a temp file first, then renames over name
func (s *FileStore) WriteFile(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	path := s.Path(name)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write media file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move media file: %w", err)
	}

	s.logger.Debug("Media file written", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

func (s *FileStore) Remove(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove media file: %w", err)
	}
	return nil
}
