// Package file implements a blob store as a file hierarchy.
package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/bobg/habs"
	"github.com/bobg/habs/store"
)

var (
	_ habs.Store  = &Store{}
	_ habs.Lister = &Store{}
)

// Store is a file-based implementation of a blob store.
type Store struct {
	fs   afero.Fs
	root string
}

// New produces a new Store storing data beneath `root` in the OS filesystem.
func New(root string) *Store {
	return NewFs(afero.NewOsFs(), root)
}

// NewFs produces a new Store storing data beneath `root` in fs.
func NewFs(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

func (s *Store) blobroot() string {
	return filepath.Join(s.root, "blobs")
}

func (s *Store) blobpath(ref habs.Ref) string {
	h := ref.String()
	return filepath.Join(s.blobroot(), h[:2], h[:4], h)
}

// GetBlob gets the blob with hash `ref`.
func (s *Store) GetBlob(_ context.Context, ref habs.Ref) ([]byte, error) {
	path := s.blobpath(ref)
	blob, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, habs.ErrNotFound
	}
	return blob, errors.Wrapf(err, "reading %s", path)
}

// HasBlob tells whether the store has a blob for ref.
func (s *Store) HasBlob(_ context.Context, ref habs.Ref) (bool, error) {
	path := s.blobpath(ref)
	_, err := s.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "statting %s", path)
	}
	return true, nil
}

// SetBlob adds a blob to the store if it wasn't already present.
// The blob is written to a temporary file and renamed into place,
// so a concurrent reader never sees a partial blob.
func (s *Store) SetBlob(_ context.Context, ref habs.Ref, b []byte) error {
	var (
		path = s.blobpath(ref)
		dir  = filepath.Dir(path)
	)

	err := s.fs.MkdirAll(dir, 0755)
	if err != nil {
		return errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	if _, err = s.fs.Stat(path); err == nil {
		return nil
	}

	f, err := afero.TempFile(s.fs, dir, "tmp-")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpname := f.Name()
	defer s.fs.Remove(tmpname)

	_, err = f.Write(b)
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "writing data to %s", tmpname)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmpname)
	}

	return errors.Wrapf(s.fs.Rename(tmpname, path), "renaming %s to %s", tmpname, path)
}

// ListRefs produces all blob refs in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start habs.Ref, f func(habs.Ref) error) error {
	err := s.fs.MkdirAll(s.blobroot(), 0755)
	if err != nil {
		return errors.Wrapf(err, "ensuring %s exists", s.blobroot())
	}

	topLevel, err := afero.ReadDir(s.fs, s.blobroot())
	if err != nil {
		return errors.Wrapf(err, "reading dir %s", s.blobroot())
	}

	startHex := start.String()
	topIndex := sort.Search(len(topLevel), func(n int) bool {
		return topLevel[n].Name() >= startHex[:2]
	})
	for i := topIndex; i < len(topLevel); i++ {
		topInfo := topLevel[i]
		if !topInfo.IsDir() {
			continue
		}
		topName := topInfo.Name()
		if len(topName) != 2 {
			continue
		}
		if _, err = strconv.ParseInt(topName, 16, 64); err != nil {
			continue
		}

		midLevel, err := afero.ReadDir(s.fs, filepath.Join(s.blobroot(), topName))
		if err != nil {
			return errors.Wrapf(err, "reading dir %s/%s", s.blobroot(), topName)
		}
		midIndex := sort.Search(len(midLevel), func(n int) bool {
			return midLevel[n].Name() >= startHex[:4]
		})
		for j := midIndex; j < len(midLevel); j++ {
			midInfo := midLevel[j]
			if !midInfo.IsDir() {
				continue
			}
			midName := midInfo.Name()
			if len(midName) != 4 {
				continue
			}
			if _, err = strconv.ParseInt(midName, 16, 64); err != nil {
				continue
			}

			blobInfos, err := afero.ReadDir(s.fs, filepath.Join(s.blobroot(), topName, midName))
			if err != nil {
				return errors.Wrapf(err, "reading dir %s/%s/%s", s.blobroot(), topName, midName)
			}

			index := sort.Search(len(blobInfos), func(n int) bool {
				return blobInfos[n].Name() > startHex
			})
			for k := index; k < len(blobInfos); k++ {
				blobInfo := blobInfos[k]
				if blobInfo.IsDir() {
					continue
				}

				ref, err := habs.RefFromHex(blobInfo.Name())
				if err != nil {
					continue
				}

				if err = ctx.Err(); err != nil {
					return err
				}
				err = f(ref)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Store) String() string { return "file:" + s.root }

func init() {
	store.Register("file", func(_ context.Context, conf map[string]interface{}) (habs.Store, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		inMemory, err := store.Bool(conf, "in_memory", false)
		if err != nil {
			return nil, err
		}
		if inMemory {
			return NewFs(afero.NewMemMapFs(), root), nil
		}
		return New(root), nil
	})
}
