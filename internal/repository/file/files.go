package file

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const indexDir = ".indices"

// files handles the sharded on-disk layout of one entity kind
type files struct {
	base     string
	compress bool
	shardLen int
	// shard used for ids shorter than shardLen
	shortShard string
}

func newFiles(base string, compress bool, shardLen int, shortShard string) (*files, error) {
	if err := os.MkdirAll(filepath.Join(base, indexDir), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &files{base: base, compress: compress, shardLen: shardLen, shortShard: shortShard}, nil
}

func (f *files) ext() string {
	if f.compress {
		return ".json.gz"
	}
	return ".json"
}

// validID rejects ids that could escape the shard directory
func validID(id string) error {
	switch {
	case id == "":
		return errors.New("id is empty")
	case strings.ContainsAny(id, `/\`), strings.Contains(id, ".."), id == ".":
		return fmt.Errorf("id %q contains path characters", id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("id %q must not start with a dot", id)
	}
	return nil
}

// path returns the file location of id
func (f *files) path(id string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	shard := f.shortShard
	if len(id) >= f.shardLen {
		shard = id[:f.shardLen]
	}
	return filepath.Join(f.base, shard, id+f.ext()), nil
}

func (f *files) exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// write serializes v to path through a temp file in the same directory
func (f *files) write(path string, v any) error {
	return writeAtomic(path, v, f.compress)
}

// read decodes the document at path into v. A missing file wraps fs.ErrNotExist.
func (f *files) read(path string, v any) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var r io.Reader = file
	if f.compress {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("opening gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// each calls fn for every entity file in the store
func (f *files) each(fn func(path string) error) error {
	entries, err := os.ReadDir(f.base)
	if err != nil {
		return err
	}
	ext := f.ext()
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		shard := filepath.Join(f.base, e.Name())
		docs, err := os.ReadDir(shard)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
				continue
			}
			if err := fn(filepath.Join(shard, d.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// size sums the sizes of every regular file below the base directory
func (f *files) size() (int64, error) {
	var total int64
	err := filepath.WalkDir(f.base, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func writeAtomic(path string, v any, compress bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %q: %w", path, err)
	}
	tmpName := tmp.Name()

	writeErr := encode(tmp, v, compress)
	if err := tmp.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("close temp file %q: %w", tmpName, err)
	}
	if writeErr != nil {
		_ = os.Remove(tmpName)
		return writeErr
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace file %q: %w", path, err)
	}
	return nil
}

func encode(w io.Writer, v any, compress bool) error {
	if !compress {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	gz := gzip.NewWriter(w)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
