package gosftp

import (
	"context"
	"path"
)

// CollectUnseen walks a directory with w and returns the entries that are
// either new or whose size has changed since the caller's last pass,
// skipping anything listed in exclude. seen maps a full remote path to the
// NameEntry last observed there; the caller is expected to persist and
// re-supply it across calls (a one-way mirror/sync use case this package
// does not otherwise prescribe a storage format for).
func CollectUnseen(ctx context.Context, w *DirWalk, dirPath string, seen map[string]NameEntry, exclude []string) ([]NameEntry, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excluded[e] = true
	}

	var found []NameEntry
	for w.Next(ctx) {
		entry := w.Entry()
		full := path.Join(dirPath, entry.Name)
		if excluded[full] {
			continue
		}
		if prior, ok := seen[full]; ok && sameSize(prior.Attrs, entry.Attrs) {
			continue
		}
		found = append(found, entry)
	}
	return found, w.Err()
}

func sameSize(a, b Attributes) bool {
	if a.Size == nil || b.Size == nil {
		return false
	}
	return *a.Size == *b.Size
}
