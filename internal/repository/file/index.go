package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// index maps a key to the sorted ids carrying that key
type index struct {
	name    string
	path    string
	entries map[string][]string
}

func (ix *index) ids(key string) []string {
	return slices.Clone(ix.entries[key])
}

func (ix *index) add(key, id string) {
	ids := ix.entries[key]
	i, found := slices.BinarySearch(ids, id)
	if found {
		return
	}
	ix.entries[key] = slices.Insert(ids, i, id)
}

func (ix *index) remove(key, id string) {
	ids := ix.entries[key]
	i, found := slices.BinarySearch(ids, id)
	if !found {
		return
	}
	ids = slices.Delete(ids, i, i+1)
	if len(ids) == 0 {
		delete(ix.entries, key)
		return
	}
	ix.entries[key] = ids
}

func (ix *index) keys() []string {
	return slices.Sorted(maps.Keys(ix.entries))
}

func (ix *index) clone() *index {
	c := &index{name: ix.name, path: ix.path, entries: make(map[string][]string, len(ix.entries))}
	for k, ids := range ix.entries {
		c.entries[k] = slices.Clone(ids)
	}
	return c
}

func (ix *index) load() error {
	data, err := os.ReadFile(ix.path)
	if errors.Is(err, fs.ErrNotExist) {
		ix.entries = make(map[string][]string)
		return nil
	}
	if err != nil {
		return err
	}
	entries := make(map[string][]string)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decoding index %s: %w", ix.name, err)
	}
	for k, ids := range entries {
		slices.Sort(ids)
		entries[k] = slices.Compact(ids)
	}
	ix.entries = entries
	return nil
}

// indexSet holds the named indices of one store
type indexSet struct {
	dir     string
	indices map[string]*index
}

func loadIndexSet(dir string, names ...string) (*indexSet, error) {
	s := &indexSet{dir: dir, indices: make(map[string]*index, len(names))}
	for _, name := range names {
		s.indices[name] = &index{name: name, path: filepath.Join(dir, name+".json")}
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *indexSet) get(name string) *index {
	return s.indices[name]
}

func (s *indexSet) reload() error {
	for _, ix := range s.indices {
		if err := ix.load(); err != nil {
			return err
		}
	}
	return nil
}

// indexTx stages changes to copies of the indices it touches
type indexTx struct {
	set     *indexSet
	touched map[string]*index
}

func (s *indexSet) begin() *indexTx {
	return &indexTx{set: s, touched: make(map[string]*index)}
}

func (tx *indexTx) index(name string) *index {
	if ix, ok := tx.touched[name]; ok {
		return ix
	}
	ix := tx.set.indices[name].clone()
	tx.touched[name] = ix
	return ix
}

func (tx *indexTx) add(name, key, id string) {
	tx.index(name).add(key, id)
}

func (tx *indexTx) remove(name, key, id string) {
	tx.index(name).remove(key, id)
}

// commit writes every touched index to disk, then swaps them into the set. If
// a write fails, indices already written are restored and the set is reloaded
// from disk.
func (tx *indexTx) commit() error {
	var written []string
	for _, name := range tx.names() {
		ix := tx.touched[name]
		if err := writeAtomic(ix.path, ix.entries, false); err != nil {
			err = fmt.Errorf("writing index %s: %w", name, err)
			for _, done := range written {
				orig := tx.set.indices[done]
				if rerr := writeAtomic(orig.path, orig.entries, false); rerr != nil {
					err = errors.Join(err, rerr)
				}
			}
			if rerr := tx.set.reload(); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return err
		}
		written = append(written, name)
	}
	maps.Copy(tx.set.indices, tx.touched)
	return nil
}

// names returns the touched index names in sorted order
func (tx *indexTx) names() []string {
	return slices.Sorted(maps.Keys(tx.touched))
}
