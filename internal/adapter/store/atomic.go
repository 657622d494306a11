package store

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
)

// writeAtomic replaces dest with data: temp file in the same directory,
// fsync, rename over dest, then fsync the directory. A crash leaves either
// the previous file or the new one under dest, plus at most a stray
// ".tmp-*" file.
func writeAtomic(ctx context.Context, dest string, data []byte, permF, permD os.FileMode) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, permD); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := tmp.Chmod(permF); err != nil {
		return fail(err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// Last point at which cancellation leaves the old file untouched.
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
