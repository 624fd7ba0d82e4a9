package service

import (
	"fmt"
	"regexp"

	serrors "github.com/devrev/screenhub/internal/errors"
	"github.com/devrev/screenhub/internal/model"
)

// DefaultMaxDepth bounds document nesting
const DefaultMaxDepth = 64

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateName rejects names that cannot be used as store keys or topics
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return serrors.ValidationFailure("name",
			"must start with a letter or digit and contain at most 128 of [A-Za-z0-9._-]")
	}
	return nil
}

// ValidateDocument rejects obviously malformed documents
func ValidateDocument(doc model.Document, maxDepth int) error {
	if !doc.IsMap() {
		return serrors.ValidationFailure("document", fmt.Sprintf("root must be a map, got %s", doc.Kind()))
	}
	if maxDepth > 0 {
		if depth := doc.Depth(); depth > maxDepth {
			return serrors.ValidationFailure("document", fmt.Sprintf("nesting depth %d exceeds %d", depth, maxDepth))
		}
	}
	return nil
}
