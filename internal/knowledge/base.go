// Package knowledge is the read-only reference data the discipline cores
// consult: component inventories, safety limits and security rules.
package knowledge

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var defaultFS embed.FS

// Item is one record of a category.
type Item map[string]any

// Base maps categories to their records.
type Base struct {
	data map[string][]Item
}

// New builds a Base from in-memory data.
func New(data map[string][]Item) *Base {
	if data == nil {
		data = map[string][]Item{}
	}
	return &Base{data: data}
}

// Default loads the data compiled into the binary.
func Default() (*Base, error) {
	sub, err := fs.Sub(defaultFS, "data")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// LoadDir loads every .yaml, .yml and .json file in dir. Files may share
// categories; their records are concatenated in file name order.
func LoadDir(dir string) (*Base, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("knowledge dir: %w", err)
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS loads knowledge files from the root of fsys.
func LoadFS(fsys fs.FS) (*Base, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read knowledge files: %w", err)
	}
	data := map[string][]Item{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		raw, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		var file map[string][]Item
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		for category, items := range file {
			data[category] = append(data[category], items...)
		}
	}
	return New(data), nil
}

// Search returns the records of category. A non-empty query keeps only the
// records where some value contains it, case-insensitively.
func (b *Base) Search(category, query string) []Item {
	items := b.data[category]
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return append([]Item(nil), items...)
	}
	var out []Item
	for _, item := range items {
		for _, v := range item {
			if strings.Contains(strings.ToLower(fmt.Sprint(v)), query) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// Categories lists the known categories in sorted order.
func (b *Base) Categories() []string {
	out := make([]string, 0, len(b.data))
	for c := range b.data {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
