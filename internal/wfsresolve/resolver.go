// Package wfsresolve implements the path-resolution engine: translating
// an inode number or an absolute slash-separated path to the inode's
// latest live record, applying "last write wins" over the log.
package wfsresolve

import (
	"strings"

	"github.com/eyunku/wfs/internal/wfserrors"
	"github.com/eyunku/wfs/internal/wfsfmt"
	"github.com/eyunku/wfs/internal/wfslog"
)

// Resolver answers inode-number and path queries against a single built
// Index. Callers rebuild (wfslog.Build) and construct a fresh Resolver
// after every mutation, matching the single-writer, scan-after-append
// discipline in spec.md §5.
type Resolver struct {
	idx *wfslog.Index
}

// New wraps a freshly built Index.
func New(idx *wfslog.Index) *Resolver { return &Resolver{idx: idx} }

// Live returns the latest live record for inode n, or NOT-FOUND if it
// does not exist or its latest record is a tombstone.
func (r *Resolver) Live(n uint32) (wfsfmt.Record, error) {
	rec, ok := r.idx.LatestLive(n)
	if !ok {
		return wfsfmt.Record{}, wfserrors.NotFound("no live inode")
	}
	return rec, nil
}

// Entries decodes the directory entries of a live directory inode.
func (r *Resolver) Entries(n uint32) ([]wfsfmt.Dirent, error) {
	rec, err := r.Live(n)
	if err != nil {
		return nil, err
	}
	if !rec.Header.IsDir() {
		return nil, wfserrors.NotADirectory("inode is not a directory")
	}
	return wfsfmt.DecodeDirents(rec.Payload)
}

// LookUp finds the child named name within directory parent, returning
// its inode number.
func (r *Resolver) LookUp(parent uint32, name string) (uint32, error) {
	entries, err := r.Entries(parent)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e.Inode, nil
		}
	}
	return 0, wfserrors.NotFound("no such entry: " + name)
}

// Path resolves an absolute slash-separated path to an inode number,
// tokenizing on "/" and ignoring empty segments so "/", "/a/", and "/a"
// all behave correctly. An empty or root path resolves to the root inode.
func (r *Resolver) Path(path string) (uint32, error) {
	cur := wfsfmt.RootInode

	for _, tok := range strings.Split(path, "/") {
		if tok == "" {
			continue
		}

		rec, err := r.Live(cur)
		if err != nil {
			return 0, err
		}
		if !rec.Header.IsDir() {
			return 0, wfserrors.NotADirectory("path segment is not a directory")
		}

		child, err := r.LookUp(cur, tok)
		if err != nil {
			return 0, err
		}
		cur = child
	}

	return cur, nil
}

// Split divides path into its parent directory path and its final
// component's name, ignoring trailing slashes. It is purely textual: it
// resolves nothing and does not require either part to exist.
// ParentAndName uses it before resolving the parent.
func Split(path string) (dir string, name string) {
	trimmed := strings.TrimRight(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "", trimmed
	}
	return trimmed[:idx], trimmed[idx+1:]
}

// ParentAndName resolves path's parent directory to an inode number and
// returns the final path component alongside it.
func (r *Resolver) ParentAndName(path string) (parent uint32, name string, err error) {
	dir, name := Split(path)
	parent, err = r.Path(dir)
	return parent, name, err
}
