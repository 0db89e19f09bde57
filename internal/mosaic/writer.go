package mosaic

import (
	"context"
	"fmt"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/tessera/api"
)

// Writer persists a descriptor.
type Writer interface {
	Write(ctx context.Context, path string, d *api.VRTDataset) error
}

// FSWriter writes descriptors atomically: the document goes to a temporary
// file in the target directory which is then renamed over path.
type FSWriter struct {
	FS billy.Filesystem
}

// Interface compliance
var _ Writer = (*FSWriter)(nil)

func NewFSWriter(fs billy.Filesystem) *FSWriter {
	return &FSWriter{FS: fs}
}

func (w *FSWriter) Write(ctx context.Context, path string, d *api.VRTDataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := api.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode %s: %w: %w", path, ErrWriteFailure, err)
	}
	if err := WriteFile(w.FS, path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	return nil
}

// WriteFile stores data at path through a temp file and rename.
func WriteFile(fs billy.Filesystem, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := fs.TempFile(dir, "."+filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(name)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(name)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := fs.Rename(name, path); err != nil {
		_ = fs.Remove(name)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
