package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	apperrors "github.com/devrev/screenhub/internal/errors"
	"github.com/devrev/screenhub/internal/model"
)

// CreatedBy marks versions written by the seeder
const CreatedBy = "seed"

// Writer is the subset of the distribution service used for seeding
type Writer interface {
	GetDocument(ctx context.Context, name string) (*model.NamedConfiguration, error)
	UpdateDocument(ctx context.Context, name string, value model.Document, meta model.VersionMetadata) (*model.Version, error)
}

// LoadDirectory reads every *.yaml, *.yml and *.json file in dir.
// The document name is the file name without its extension.
func LoadDirectory(dir string) (map[string]model.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed directory: %w", err)
	}

	docs := make(map[string]model.Document)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if _, dup := docs[name]; dup {
			return nil, fmt.Errorf("duplicate seed document %q", name)
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		var doc model.Document
		if ext == ".json" {
			err = json.Unmarshal(data, &doc)
		} else {
			err = yaml.Unmarshal(data, &doc)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", entry.Name(), err)
		}
		docs[name] = doc
	}
	return docs, nil
}

// Seed writes every document whose name does not exist yet and returns the
// names that were written. A failed write does not stop the others; they are
// reported together as a PartialFailure. A failed existence check aborts.
func Seed(ctx context.Context, w Writer, docs map[string]model.Document, logger *zap.Logger) ([]string, error) {
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	var seeded, failed []string
	for _, name := range names {
		_, err := w.GetDocument(ctx, name)
		if err == nil {
			logger.Debug("Seed document already present", zap.String("name", name))
			continue
		}
		if !apperrors.IsNotFound(err) {
			return seeded, fmt.Errorf("failed to check %s: %w", name, err)
		}

		if _, err := w.UpdateDocument(ctx, name, docs[name], model.VersionMetadata{CreatedBy: CreatedBy}); err != nil {
			logger.Warn("Failed to seed document", zap.String("name", name), zap.Error(err))
			failed = append(failed, name)
			continue
		}
		seeded = append(seeded, name)
	}

	logger.Info("Seeded documents",
		zap.Int("available", len(docs)),
		zap.Int("written", len(seeded)),
		zap.Int("failed", len(failed)))
	if len(failed) > 0 {
		return seeded, apperrors.PartialFailure("some seed documents were not written", failed)
	}
	return seeded, nil
}
