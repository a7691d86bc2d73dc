package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const metaSuffix = ".meta"

// FS stores objects as files under a root directory, with a JSON
// sidecar per object carrying the Info record. Writes go through a
// temp file and an atomic rename so readers never observe partial
// payloads.
type FS struct {
	root  string
	nowFn func() time.Time
}

// NewFS creates the root directory if needed and returns a filesystem store.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, errors.New("blob: fs root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob: resolve fs root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create fs root: %w", err)
	}
	return &FS{root: abs, nowFn: time.Now}, nil
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("blob: key must not be empty")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("blob: key %q must be relative", key)
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return fmt.Errorf("blob: key %q escapes the store root", key)
	}
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return fmt.Errorf("blob: key %q escapes the store root", key)
		}
	}
	return nil
}

func (s *FS) objectPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FS) Put(_ context.Context, key string, payload io.Reader, opts PutOptions) (Info, error) {
	if err := validateKey(key); err != nil {
		return Info{}, err
	}
	data, err := io.ReadAll(payload)
	if err != nil {
		return Info{}, fmt.Errorf("blob: read payload: %w", err)
	}
	sum := sha256.Sum256(data)
	etag := hex.EncodeToString(sum[:])

	target := s.objectPath(key)
	if existing, err := s.readMeta(key); err == nil {
		if existing.ETag != etag {
			return Info{}, fmt.Errorf("blob: key %q already exists with different content", key)
		}
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Info{}, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Info{}, fmt.Errorf("blob: create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return Info{}, fmt.Errorf("blob: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Info{}, fmt.Errorf("blob: write payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Info{}, fmt.Errorf("blob: close temp file: %w", err)
	}

	info := Info{
		Key:         key,
		Size:        int64(len(data)),
		ETag:        etag,
		ContentType: opts.ContentType,
		Metadata:    copyMetadata(opts.Metadata),
		CreatedAt:   s.nowFn().UTC(),
	}
	meta, err := json.Marshal(info)
	if err != nil {
		os.Remove(tmpName)
		return Info{}, fmt.Errorf("blob: encode metadata: %w", err)
	}
	if err := os.WriteFile(target+metaSuffix, meta, 0o644); err != nil {
		os.Remove(tmpName)
		return Info{}, fmt.Errorf("blob: write metadata: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		os.Remove(target + metaSuffix)
		return Info{}, fmt.Errorf("blob: finalize object: %w", err)
	}
	return info, nil
}

func (s *FS) readMeta(key string) (Info, error) {
	raw, err := os.ReadFile(s.objectPath(key) + metaSuffix)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, fmt.Errorf("blob: read metadata: %w", err)
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, fmt.Errorf("blob: decode metadata for %q: %w", key, err)
	}
	return info, nil
}

func (s *FS) Get(_ context.Context, key string) (io.ReadCloser, Info, error) {
	if err := validateKey(key); err != nil {
		return nil, Info{}, err
	}
	info, err := s.readMeta(key)
	if err != nil {
		return nil, Info{}, err
	}
	f, err := os.Open(s.objectPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Info{}, ErrNotFound
	}
	if err != nil {
		return nil, Info{}, fmt.Errorf("blob: open object: %w", err)
	}
	return f, info, nil
}

func (s *FS) Head(_ context.Context, key string) (Info, error) {
	if err := validateKey(key); err != nil {
		return Info{}, err
	}
	return s.readMeta(key)
}

func (s *FS) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	target := s.objectPath(key)
	err := os.Remove(target)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("blob: delete object: %w", err)
	}
	if err := os.Remove(target + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob: delete metadata: %w", err)
	}
	return nil
}

func (s *FS) List(_ context.Context, prefix string) ([]Info, error) {
	var infos []Info
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.readMeta(key)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blob: list objects: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL returns a local pseudo-URL. The fs driver has no signing
// authority, so the URL only encodes the key for callers that render
// links in exported reports.
func (s *FS) PresignURL(_ context.Context, key string, opts SignedURLOptions) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	if opts.Method != "" && opts.Method != "GET" {
		return "", fmt.Errorf("blob: presign method %q not supported", opts.Method)
	}
	if _, err := s.readMeta(key); err != nil {
		return "", err
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	u := url.URL{
		Scheme:   "http",
		Host:     "local.blob",
		Path:     "/" + key,
		RawQuery: url.Values{"expires": {s.nowFn().UTC().Add(expiry).Format(time.RFC3339)}}.Encode(),
	}
	return u.String(), nil
}

func (s *FS) Driver() Driver { return DriverFS }
