package worker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/me/clusterize/pkg/model"
)

// publish copies src into the scratch directory at dst. The copy is written
// under a partial name and renamed, so dst never exists half-written.
func publish(src, dst string) (int64, error) {
	partial := dst + model.PartialOutputSuffix
	n, err := copyFile(src, partial)
	if err != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("copy output to %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(partial, dst); err != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("rename output: %w", err)
	}
	return n, nil
}

// copyFile copies src to dst, creating parent directories as needed, and
// syncs dst before returning.
func copyFile(src, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return 0, err
	}
	return n, out.Close()
}
