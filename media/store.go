package media

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultURLPrefix = "/uploads"

	maxNameAttempts = 1000
)

// Store persists processed files and removes them again.
type Store interface {
	// Save writes data under a unique name derived from originalName and returns the
	// stored name and its public path.
	Save(originalName string, data []byte) (storedName, storedPath string, err error)
	Remove(storedPath string) error
}

// DiskStore writes files into a single uploads directory as {unixMillis}_{name}.
// Existing files are never overwritten: on a clash the timestamp is advanced.
type DiskStore struct {
	dir       string
	urlPrefix string
	now       func() time.Time

	mu   sync.Mutex
	last int64
}

func NewDiskStore(dir, urlPrefix string) *DiskStore {
	if urlPrefix == "" {
		urlPrefix = DefaultURLPrefix
	}
	return &DiskStore{
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		now:       time.Now,
	}
}

func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) Save(originalName string, data []byte) (string, string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create uploads dir: %w", err)
	}
	name := SanitizeName(originalName)

	millis := s.nextMillis()
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		storedName := fmt.Sprintf("%d_%s", millis+int64(attempt), name)
		f, err := os.OpenFile(filepath.Join(s.dir, storedName), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to create %s: %w", storedName, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", "", fmt.Errorf("failed to write %s: %w", storedName, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name())
			return "", "", fmt.Errorf("failed to close %s: %w", storedName, err)
		}
		return storedName, path.Join(s.urlPrefix, storedName), nil
	}
	return "", "", fmt.Errorf("no free name for %s after %d attempts", name, maxNameAttempts)
}

// Remove deletes a file previously returned by Save. Missing files are not an error.
func (s *DiskStore) Remove(storedPath string) error {
	name := path.Base(storedPath)
	if name == "." || name == "/" {
		return fmt.Errorf("invalid stored path %q", storedPath)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// nextMillis returns the current unix millisecond, never going backwards.
func (s *DiskStore) nextMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	millis := s.now().UnixMilli()
	if millis < s.last {
		millis = s.last
	}
	s.last = millis
	return millis
}

// SanitizeName strips any directory part from a client supplied file name.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "upload"
	}
	return name
}
