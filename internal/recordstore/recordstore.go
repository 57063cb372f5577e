// Package recordstore holds the encrypted source-of-truth blobs that the
// indexer decrypts (via kms.Decrypter) before fingerprinting. It is kept
// separate from the reverse index itself: the index never stores or needs
// ciphertext, only the opaque refs recordstore keys its blobs by.
package recordstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"piiindex/internal/apperr"
)

// ErrNotFound is returned by Get when ref has no stored blob.
var ErrNotFound = errors.New("recordstore: blob not found")

// BlobStore holds opaque ciphertext blobs addressed by the same ref used
// in index postings.
type BlobStore interface {
	Put(ctx context.Context, ref string, ciphertext []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
	Close(ctx context.Context) error
}

// FileStore is a directory-backed BlobStore, useful for local runs and
// tests without a Mongo dependency.
type FileStore struct{ dir string }

// NewFileStore ensures dir exists and returns a FileStore rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apperr.Wrap(apperr.StorePermanent, "create blob dir", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(ref string) string {
	return filepath.Join(f.dir, ref+".blob")
}

func (f *FileStore) Put(_ context.Context, ref string, ciphertext []byte) error {
	if ref == "" {
		return apperr.New(apperr.InvalidInput, "empty ref")
	}
	if err := os.WriteFile(f.path(ref), ciphertext, 0o600); err != nil {
		return apperr.Wrap(apperr.StoreTransient, "write blob", err)
	}
	return nil
}

func (f *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	b, err := os.ReadFile(f.path(ref))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreTransient, "read blob", err)
	}
	return b, nil
}

func (f *FileStore) Delete(_ context.Context, ref string) error {
	err := os.Remove(f.path(ref))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.StoreTransient, "delete blob", err)
	}
	return nil
}

func (f *FileStore) Close(context.Context) error { return nil }
