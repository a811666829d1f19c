// Package assets resolves external-data references to their backing
// payloads. A resolved reference carries the owning resource's root and
// relative path; locators turn those into readable assets, optionally
// remapping roots when data was moved after acquisition.
package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/runstream/runstream/internal/model"
)

// Locator maps a resolved reference to its backing asset.
type Locator interface {
	// Path returns the locator-specific address of the asset, e.g. a
	// filesystem path or an object key.
	Path(ref model.DatumRef) (string, error)

	// Open returns a reader over the asset's bytes. The caller closes it.
	Open(ctx context.Context, ref model.DatumRef) (io.ReadCloser, error)
}

// LocalLocator resolves references against the local filesystem.
// rootMap remaps resource roots recorded at acquisition time to their
// current mount points; an unmapped root is used as-is.
type LocalLocator struct {
	rootMap map[string]string
}

// NewLocalLocator creates a filesystem locator.
func NewLocalLocator(rootMap map[string]string) *LocalLocator {
	return &LocalLocator{rootMap: rootMap}
}

func (l *LocalLocator) root(ref model.DatumRef) string {
	if mapped, ok := l.rootMap[ref.Resource.Root]; ok {
		return mapped
	}
	return ref.Resource.Root
}

// Path joins the (remapped) resource root with its relative path.
func (l *LocalLocator) Path(ref model.DatumRef) (string, error) {
	if ref.Resource.ResourcePath == "" {
		return "", fmt.Errorf("resource %s has no path", ref.Resource.UID)
	}
	return filepath.Join(l.root(ref), ref.Resource.ResourcePath), nil
}

// Open opens the asset file for reading.
func (l *LocalLocator) Open(ctx context.Context, ref model.DatumRef) (io.ReadCloser, error) {
	path, err := l.Path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset: %w", err)
	}
	return f, nil
}

// Exists reports whether the asset file is present.
func (l *LocalLocator) Exists(ref model.DatumRef) (bool, error) {
	path, err := l.Path(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
