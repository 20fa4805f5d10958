package files

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"egc/internal/infrastructure"
	"egc/internal/ingest"
)

var (
	ErrUploadNotFound  = errors.New("upload not found")
	ErrUploadTooLarge  = errors.New("upload exceeds size limit")
	ErrUnsupportedType = errors.New("unsupported file type")
)

const metaSuffix = ".meta.json"

// Upload describes a stored file.
type Upload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"createdAt"`
	Path      string    `json:"-"`
}

// UploadStore keeps uploaded files under one directory. The original name
// and checksum go to a sidecar file so they survive a restart.
type UploadStore struct {
	dir       string
	maxBytes  int64
	discovery *Discovery
	logger    *slog.Logger

	mu    sync.RWMutex
	index map[string]Upload
}

// NewUploadStore creates dir if needed. maxBytes <= 0 disables the limit.
func NewUploadStore(dir string, maxBytes int64, logger *slog.Logger) (*UploadStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &UploadStore{
		dir:       dir,
		maxBytes:  maxBytes,
		discovery: NewDiscovery(dir),
		logger:    infrastructure.WithComponent(logger, "upload_store"),
		index:     make(map[string]Upload),
	}, nil
}

// Dir is the directory uploads are written to.
func (s *UploadStore) Dir() string { return s.dir }

// Save streams r to disk under a fresh id. A name without extension is
// stored as CSV.
func (s *UploadStore) Save(ctx context.Context, name string, r io.Reader) (Upload, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload.csv"
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".csv"
	}
	if !dataExtensions[ext] {
		return Upload{}, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}

	id := uuid.NewString()
	path := filepath.Join(s.dir, id+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Upload{}, fmt.Errorf("create upload file: %w", err)
	}

	h, _ := blake2b.New256(nil)
	src := io.Reader(&ctxReader{ctx: ctx, r: r})
	if s.maxBytes > 0 {
		src = io.LimitReader(src, s.maxBytes+1)
	}
	n, err := io.Copy(io.MultiWriter(f, h), src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = fmt.Errorf("%w: more than %d bytes", ErrUploadTooLarge, s.maxBytes)
	}
	if err != nil {
		_ = os.Remove(path)
		return Upload{}, err
	}

	up := Upload{
		ID:        id,
		Name:      name,
		Size:      n,
		Checksum:  hex.EncodeToString(h.Sum(nil)),
		CreatedAt: time.Now().UTC(),
		Path:      path,
	}
	if err := s.writeMeta(up); err != nil {
		_ = os.Remove(path)
		return Upload{}, err
	}

	s.mu.Lock()
	s.index[id] = up
	s.mu.Unlock()

	s.logger.Info("upload stored",
		slog.String("upload_id", id),
		slog.String("name", name),
		slog.Int64("size_bytes", n))
	return up, nil
}

// Get looks an upload up by id, falling back to the directory for uploads
// made before a restart.
func (s *UploadStore) Get(id string) (Upload, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Upload{}, fmt.Errorf("%w: %s", ErrUploadNotFound, id)
	}

	s.mu.RLock()
	up, ok := s.index[id]
	s.mu.RUnlock()
	if ok {
		return up, nil
	}

	fi, found, err := s.discovery.FindByStem(s.dir, id)
	if err != nil {
		return Upload{}, err
	}
	if !found {
		return Upload{}, fmt.Errorf("%w: %s", ErrUploadNotFound, id)
	}
	up = s.readMeta(fi)

	s.mu.Lock()
	s.index[id] = up
	s.mu.Unlock()
	return up, nil
}

// List returns every stored upload, oldest first.
func (s *UploadStore) List() ([]Upload, error) {
	found, err := s.discovery.FindDataFiles(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]Upload, 0, len(found))
	for _, fi := range found {
		stem := strings.TrimSuffix(fi.Name, filepath.Ext(fi.Name))
		if _, err := uuid.Parse(stem); err != nil {
			continue
		}
		s.mu.RLock()
		up, ok := s.index[stem]
		s.mu.RUnlock()
		if !ok {
			up = s.readMeta(fi)
		}
		out = append(out, up)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Delete removes an upload and its sidecar.
func (s *UploadStore) Delete(id string) error {
	up, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := os.Remove(up.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	_ = os.Remove(up.Path + metaSuffix)

	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()

	s.logger.Info("upload deleted", slog.String("upload_id", id))
	return nil
}

// Open implements ingest.Opener: ref is an upload id.
func (s *UploadStore) Open(_ context.Context, ref string) (ingest.Source, io.Closer, error) {
	up, err := s.Get(ref)
	if err != nil {
		return ingest.Source{}, nil, err
	}
	f, err := os.Open(up.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ingest.Source{}, nil, fmt.Errorf("%w: %s", ErrUploadNotFound, ref)
		}
		return ingest.Source{}, nil, err
	}
	return ingest.Source{
		Name:   up.Name,
		Reader: f,
		Size:   up.Size,
		Format: ingest.DetectFormat(up.Path),
	}, f, nil
}

func (s *UploadStore) writeMeta(up Upload) error {
	data, err := json.Marshal(up)
	if err != nil {
		return err
	}
	if err := os.WriteFile(up.Path+metaSuffix, data, 0o644); err != nil {
		return fmt.Errorf("write upload metadata: %w", err)
	}
	return nil
}

// readMeta rebuilds an Upload from disk. A missing sidecar leaves the stored
// file name and modification time in place of the original values.
func (s *UploadStore) readMeta(fi FileInfo) Upload {
	up := Upload{
		ID:        strings.TrimSuffix(fi.Name, filepath.Ext(fi.Name)),
		Name:      fi.Name,
		Size:      fi.Size,
		CreatedAt: fi.ModTime.UTC(),
		Path:      fi.Path,
	}
	data, err := os.ReadFile(fi.Path + metaSuffix)
	if err != nil {
		return up
	}
	var meta Upload
	if err := json.Unmarshal(data, &meta); err != nil {
		s.logger.Warn("unreadable upload metadata", slog.String("path", fi.Path), slog.String("error", err.Error()))
		return up
	}
	up.Name = meta.Name
	up.Checksum = meta.Checksum
	up.CreatedAt = meta.CreatedAt
	return up
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
