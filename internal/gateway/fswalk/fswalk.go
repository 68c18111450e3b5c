// Package fswalk lists directory contents under the gateway's data root,
// the non-core "directory listing" collaborator named in spec.md §1/§6.
// Interface-driven the way the teacher's internal/storage package
// separates stores from their stat-backed implementation, so handler
// tests can substitute an in-memory Lister.
package fswalk

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"fitsgw/pkg/gatewayerrors"
	"fitsgw/pkg/platform/sentinel"
)

// Entry describes one child of a listed directory.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Lister lists the contents of a directory. absPath is already validated
// by the HTTP layer not to escape the data root.
type Lister interface {
	List(ctx context.Context, absPath string) ([]Entry, error)
}

// DirLister lists directories via os.ReadDir.
type DirLister struct{}

// New constructs a DirLister.
func New() DirLister { return DirLister{} }

// List returns the sorted (by name) contents of absPath.
func (DirLister) List(_ context.Context, absPath string) ([]Entry, error) {
	items, err := os.ReadDir(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gatewayerrors.Wrap(gatewayerrors.CodeNotFound, "path not found", sentinel.ErrNotFound)
		}
		return nil, gatewayerrors.Wrap(gatewayerrors.CodeIO, "failed to list directory", err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		info, err := item.Info()
		if err != nil {
			return nil, gatewayerrors.Wrap(gatewayerrors.CodeIO, "failed to stat directory entry", err)
		}
		entries = append(entries, Entry{
			Name:    filepath.Base(item.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   item.IsDir(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
