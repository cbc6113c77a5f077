// Package storage is the blob store behind the wall's photo uploads: named
// buckets of immutable objects on an afero filesystem.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

var (
	ErrObjectExists    = errors.New("object already exists")
	ErrObjectNotFound  = errors.New("object not found")
	ErrInvalidKey      = errors.New("invalid bucket or key")
	ErrTooLarge        = errors.New("object too large")
	ErrUnsupportedType = errors.New("unsupported content type")
)

var bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// Object 已存储对象的元信息
type Object struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Path is the bucket-relative path returned to uploaders.
func (o *Object) Path() string { return o.Key }

type Store struct {
	fs      afero.Fs
	maxSize int64
	allowed []string
}

// NewStore fs 通常为 afero.NewBasePathFs(afero.NewOsFs(), root)
func NewStore(fs afero.Fs, maxSize int64, allowed []string) *Store {
	return &Store{fs: fs, maxSize: maxSize, allowed: allowed}
}

// NewOSStore 以 root 目录为根的本地存储
func NewOSStore(root string, maxSize int64, allowed []string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return NewStore(afero.NewBasePathFs(afero.NewOsFs(), root), maxSize, allowed), nil
}

// MaxSize 单个对象上限
func (s *Store) MaxSize() int64 { return s.maxSize }

// Put stores r under bucket/key. Objects are immutable: an existing key is
// ErrObjectExists. The content type is sniffed from the bytes, not trusted
// from the uploader.
func (s *Store) Put(bucket, key string, r io.Reader) (*Object, error) {
	name, err := objectPath(bucket, key)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, ErrTooLarge
	}

	mt := mimetype.Detect(data)
	if !s.isAllowed(mt) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}

	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return nil, fmt.Errorf("create bucket dir: %w", err)
	}
	if ok, _ := afero.Exists(s.fs, name); ok {
		return nil, ErrObjectExists
	}
	f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrObjectExists
		}
		return nil, fmt.Errorf("create object: %w", err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(name)
		return nil, fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close object: %w", err)
	}

	return &Object{Bucket: bucket, Key: key, Size: int64(len(data)), ContentType: mt.String()}, nil
}

// Open 打开对象用于读取，调用方负责关闭
func (s *Store) Open(bucket, key string) (afero.File, *Object, error) {
	name, err := objectPath(bucket, key)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.fs.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, err
	}
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		_ = f.Close()
		return nil, nil, ErrObjectNotFound
	}

	head := make([]byte, 3072)
	n, _ := io.ReadFull(f, head)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("rewind object: %w", err)
	}
	obj := &Object{Bucket: bucket, Key: key, Size: st.Size(), ContentType: mimetype.Detect(head[:n]).String()}
	return f, obj, nil
}

func (s *Store) isAllowed(mt *mimetype.MIME) bool {
	if len(s.allowed) == 0 {
		return true
	}
	for _, a := range s.allowed {
		if mt.Is(a) {
			return true
		}
	}
	return false
}

func objectPath(bucket, key string) (string, error) {
	if !bucketPattern.MatchString(bucket) {
		return "", ErrInvalidKey
	}
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	clean := path.Clean(key)
	if clean != key || clean == "." || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", ErrInvalidKey
	}
	return path.Join(bucket, clean), nil
}
