package cache

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ketav/common"
	"ketav/misc"
)

// Handle is an ephemeral reference to cached resource bytes usable by the
// presentation layer without reading archive again.
type Handle struct {
	URL       string
	MediaType string
	Path      string // normalized archive path
	Size      int
	Mode      common.HandleMode

	id string // factory private
}

// Factory creates and revokes handles.
type Factory interface {
	Mode() common.HandleMode
	Create(p, mediaType string, data []byte) (*Handle, error)
	Revoke(h *Handle) error
}

// Inline produces data: URIs, its handles need no revocation.
type Inline struct{}

func (Inline) Mode() common.HandleMode { return common.HandleModeInline }

func (Inline) Create(p, mediaType string, data []byte) (*Handle, error) {
	return &Handle{
		URL:       "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data),
		MediaType: mediaType,
		Path:      p,
		Size:      len(data),
		Mode:      common.HandleModeInline,
	}, nil
}

func (Inline) Revoke(*Handle) error { return nil }

// MemoryScheme is URL scheme of MemoryStore handles.
const MemoryScheme = "ketav-mem"

// ErrRevoked is returned by MemoryStore.Open for unknown or revoked handles.
var ErrRevoked = errors.New("handle revoked")

type memoryObject struct {
	mediaType string
	data      []byte
}

// MemoryStore keeps resource bytes in memory under opaque URLs which the
// presentation layer resolves with Open.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (*MemoryStore) Mode() common.HandleMode { return common.HandleModeMemory }

func (s *MemoryStore) Create(p, mediaType string, data []byte) (*Handle, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.objects[id.String()] = memoryObject{mediaType: mediaType, data: data}
	s.mu.Unlock()

	return &Handle{
		URL:       MemoryScheme + ":" + id.String(),
		MediaType: mediaType,
		Path:      p,
		Size:      len(data),
		Mode:      common.HandleModeMemory,
		id:        id.String(),
	}, nil
}

func (s *MemoryStore) Revoke(h *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[h.id]; !ok {
		return fmt.Errorf("%w: %s", ErrRevoked, h.URL)
	}
	delete(s.objects, h.id)
	return nil
}

// Open returns bytes and media type for handle URL.
func (s *MemoryStore) Open(u string) ([]byte, string, error) {
	id, ok := strings.CutPrefix(u, MemoryScheme+":")
	if !ok {
		return nil, "", fmt.Errorf("not a memory handle: %s", u)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[id]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrRevoked, u)
	}
	return obj.data, obj.mediaType, nil
}

// Len returns number of live objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// FileStore writes resources into files under a directory, handles are
// file:// URLs and revocation removes the file.
type FileStore struct {
	log     *zap.Logger
	dir     string
	created bool
}

// NewFileStore prepares store in dir, when dir is empty temporary directory
// is created and removed on Close.
func NewFileStore(dir string, log *zap.Logger) (*FileStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fs := &FileStore{log: log.Named("files"), dir: dir}
	if dir == "" {
		tmp, err := os.MkdirTemp("", misc.GetAppName()+"-h-")
		if err != nil {
			return nil, fmt.Errorf("unable to create handle directory: %w", err)
		}
		fs.dir, fs.created = tmp, true
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create handle directory: %w", err)
	}
	abs, err := filepath.Abs(fs.dir)
	if err != nil {
		return nil, err
	}
	fs.dir = abs
	return fs, nil
}

func (*FileStore) Mode() common.HandleMode { return common.HandleModeFile }

// Dir returns directory handle files are written to.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Create(p, mediaType string, data []byte) (*Handle, error) {
	name := filepath.Join(s.dir, uuid.NewString()+extension(p, mediaType))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return nil, err
	}
	return &Handle{
		URL:       (&url.URL{Scheme: "file", Path: filepath.ToSlash(name)}).String(),
		MediaType: mediaType,
		Path:      p,
		Size:      len(data),
		Mode:      common.HandleModeFile,
		id:        name,
	}, nil
}

func (s *FileStore) Revoke(h *Handle) error {
	return os.Remove(h.id)
}

// Close removes temporary directory created by NewFileStore.
func (s *FileStore) Close() error {
	if !s.created {
		return nil
	}
	s.log.Debug("Removing handle directory", zap.String("dir", s.dir))
	return os.RemoveAll(s.dir)
}

// NewFactory returns factory for mode. Returned closer (may be nil) has to be
// called when factory is no longer needed.
func NewFactory(mode common.HandleMode, dir string, log *zap.Logger) (Factory, func() error, error) {
	switch mode {
	case common.HandleModeMemory:
		return NewMemoryStore(), nil, nil
	case common.HandleModeFile:
		fs, err := NewFileStore(dir, log)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs.Close, nil
	case common.HandleModeInline:
		return Inline{}, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown handle mode %d", mode)
}
