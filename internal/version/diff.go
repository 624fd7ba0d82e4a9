package version

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/devrev/screenhub/internal/model"
)

// ContentHash returns the SHA-256 of the canonical JSON form of doc.
// Map key order does not affect the hash.
func ContentHash(doc model.Document) (string, error) {
	canonical, err := doc.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize document: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Diff walks both documents and reports added, removed and modified paths.
// Maps and arrays are recursed into; array indices become path segments.
// Entries are ordered by key so the result is deterministic.
func Diff(oldDoc, newDoc model.Document) []model.DiffEntry {
	entries := make([]model.DiffEntry, 0)
	walk("", oldDoc, newDoc, &entries)
	return entries
}

func walk(path string, a, b model.Document, out *[]model.DiffEntry) {
	switch {
	case a.Kind() == model.KindMap && b.Kind() == model.KindMap:
		for _, k := range unionKeys(a, b) {
			av, inA := a.Get(k)
			bv, inB := b.Get(k)
			child := join(path, k)
			switch {
			case inA && !inB:
				*out = append(*out, removed(child, av))
			case !inA && inB:
				*out = append(*out, added(child, bv))
			default:
				walk(child, av, bv, out)
			}
		}

	case a.Kind() == model.KindArray && b.Kind() == model.KindArray:
		n := a.Len()
		if b.Len() > n {
			n = b.Len()
		}
		for i := 0; i < n; i++ {
			av, inA := a.Index(i)
			bv, inB := b.Index(i)
			child := join(path, strconv.Itoa(i))
			switch {
			case inA && !inB:
				*out = append(*out, removed(child, av))
			case !inA && inB:
				*out = append(*out, added(child, bv))
			default:
				walk(child, av, bv, out)
			}
		}

	default:
		if !a.Equal(b) {
			oldV, newV := a.Clone(), b.Clone()
			*out = append(*out, model.DiffEntry{
				Type:     model.DiffModified,
				Path:     path,
				OldValue: &oldV,
				NewValue: &newV,
			})
		}
	}
}

func added(path string, v model.Document) model.DiffEntry {
	nv := v.Clone()
	return model.DiffEntry{Type: model.DiffAdded, Path: path, NewValue: &nv}
}

func removed(path string, v model.Document) model.DiffEntry {
	ov := v.Clone()
	return model.DiffEntry{Type: model.DiffRemoved, Path: path, OldValue: &ov}
}

func join(path, seg string) string {
	if path == "" {
		return seg
	}
	return path + "." + seg
}

func unionKeys(a, b model.Document) []string {
	keys := a.Keys()
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	for _, k := range b.Keys() {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
