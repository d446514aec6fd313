package walk

import (
	"context"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// Entry is a regular file found by FS.
type Entry interface {
	Path() string
	Open() (io.ReadCloser, error)
	Stat() (fs.FileInfo, error)
}

// Icon is an icon file, Key is the game name the icon belongs to.
type Icon struct {
	Key  string
	Path string
}

// Roots is a convenience wrapper around Icons for os.Root.
func Roots(ctx context.Context, exts []string, roots ...*os.Root) iter.Seq2[Icon, error] {
	return func(yield func(Icon, error) bool) {
		for _, root := range roots {
			for icon, err := range Icons(ctx, root.FS(), root.Name(), exts) {
				if !yield(icon, err) {
					return
				}
			}
		}
	}
}

// Icons yields every file under root whose extension is in exts, matched
// case-insensitively. The key is the lowercased base name without extension.
// When several files share a key, only the first in lexical order is
// returned, so pacman.ico wins over pacman.png.
func Icons(ctx context.Context, root fs.FS, name string, exts []string) iter.Seq2[Icon, error] {
	return func(yield func(Icon, error) bool) {
		seen := make(map[string]struct{})
		for entry, err := range FS(ctx, root, name) {
			if err != nil {
				if !yield(Icon{Path: entry.Path()}, err) {
					return
				}
				continue
			}
			ext := strings.ToLower(filepath.Ext(entry.Path()))
			if !slices.Contains(exts, ext) {
				continue
			}
			key := strings.ToLower(strings.TrimSuffix(filepath.Base(entry.Path()), filepath.Ext(entry.Path())))
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if !yield(Icon{Key: key, Path: entry.Path()}, nil) {
				return
			}
		}
	}
}

// FS recursively walks the filesystem rooted at root and return a handle for every regular file found.
// Or an error if file information retrieval fails.
// Each Entry's Path() is prefixed with name of a filesystem. It does not follow symlinks.
func FS(ctx context.Context, root fs.FS, name string) iter.Seq2[Entry, error] {
	if root == nil {
		panic("root is nil")
	}

	return func(yield func(Entry, error) bool) {
		fn := func(p string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			var entry = fsEntry{
				root:    root,
				abspath: filepath.Join(name, filepath.FromSlash(p)),
				path:    p,
			}
			var yieldErr error
			if err != nil {
				yieldErr = err
			} else {
				if d.IsDir() {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					entry.infoErr = err
					yieldErr = err
				} else {
					if !info.Mode().IsRegular() {
						return nil
					}
					entry.info = info
				}
			}

			if !yield(entry, yieldErr) {
				return fs.SkipAll
			}
			return nil
		}
		_ = fs.WalkDir(root, ".", fn)
	}
}

// fsEntry implements Entry for a filesystem
// it uses root.Open to open the file
type fsEntry struct {
	root    fs.FS
	abspath string
	path    string
	info    fs.FileInfo
	infoErr error
}

// returns the path to the file prefixed with the filesystem name
func (e fsEntry) Path() string {
	return e.abspath
}

func (e fsEntry) Open() (io.ReadCloser, error) {
	if e.infoErr != nil {
		return nil, e.infoErr
	}
	return e.root.Open(path.Clean(e.path))
}

func (e fsEntry) Stat() (fs.FileInfo, error) {
	return e.info, e.infoErr
}
