package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const tempPrefix = ".upload-"

// LocalStore keeps payloads on a filesystem under root. Tests use an
// in-memory afero filesystem, production uses the OS one
type LocalStore struct {
	fs   afero.Fs
	root string
}

func NewLocalStore(fs afero.Fs, root string) *LocalStore {
	return &LocalStore{
		fs:   fs,
		root: root,
	}
}

func (s *LocalStore) path(key string) (string, error) {
	p := filepath.FromSlash(key)
	if !filepath.IsLocal(p) {
		return "", ErrInvalidKey
	}

	return filepath.Join(s.root, p), nil
}

// Put writes into a temporary file next to the destination and renames it
// once everything is flushed, so a key either holds a full payload or nothing
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory, %w", err)
	}

	exists, err := afero.Exists(s.fs, p)
	if err != nil {
		return fmt.Errorf("failed to check destination, %w", err)
	}
	if exists {
		return ErrExists
	}

	tmp, err := afero.TempFile(s.fs, dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file, %w", err)
	}

	_, err = io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to write payload, %w", err)
	}

	if err := s.fs.Rename(tmp.Name(), p); err != nil {
		s.fs.Remove(tmp.Name())
		return fmt.Errorf("failed to move payload into place, %w", err)
	}

	return nil
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}

	return f, err
}

func (s *LocalStore) Stat(_ context.Context, key string) (Object, error) {
	p, err := s.path(key)
	if err != nil {
		return Object{}, err
	}

	fi, err := s.fs.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, ErrNotFound
		}

		return Object{}, err
	}

	return Object{Key: key, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Delete is idempotent, removing a missing key is not an error
func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	err = s.fs.Remove(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]Object, error) {
	start := s.root
	if dir := strings.TrimSuffix(prefix, "/"); dir != "" {
		p, err := s.path(dir)
		if err != nil {
			return nil, err
		}
		start = p
	}

	ok, err := afero.DirExists(s.fs, start)
	if err != nil || !ok {
		return nil, err
	}

	var objects []Object

	err = afero.Walk(s.fs, start, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if fi.IsDir() || strings.HasPrefix(fi.Name(), tempPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}

		objects = append(objects, Object{
			Key:     filepath.ToSlash(rel),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}
