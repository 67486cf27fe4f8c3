package imagebuilder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sasta-kro/training-orchestrator/errs"
	"github.com/sasta-kro/training-orchestrator/models"
)

// requiredMembers are the two archive-root files every bundle must
// contain (spec §4.C step 2 / §6.2).
var requiredMembers = []string{"Dockerfile", "metadata.json"}

// bundleMetadata mirrors the required shape of metadata.json. goals is
// accepted but not interpreted by this layer; it round-trips through the
// opaque models.Exercise.Metadata blob along with any other unknown keys.
type bundleMetadata struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Level       string `json:"level"`
}

// parsedBundle is the outcome of validating a bundle's metadata.json:
// the four interpreted fields plus the original raw bytes for passthrough
// storage.
type parsedBundle struct {
	Title       string
	Version     string
	Description string
	Level       models.ExerciseLevel
	Raw         json.RawMessage
}

// validateRequiredMembers checks that Dockerfile and metadata.json exist
// at the root of the extracted bundle directory.
func validateRequiredMembers(extractedRoot string) error {
	for _, member := range requiredMembers {
		path := filepath.Join(extractedRoot, member)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return fmt.Errorf("%w: missing required member %q", errs.ErrInvalidBundle, member)
		}
	}
	return nil
}

// parseMetadata reads and validates metadata.json per spec §4.C step 3:
// title and description are required non-empty strings, level must
// case-insensitively match one of the three legal levels, version
// defaults to "latest" when absent.
func parseMetadata(extractedRoot string) (*parsedBundle, error) {
	raw, err := os.ReadFile(filepath.Join(extractedRoot, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata.json: %v", errs.ErrInvalidBundle, err)
	}

	var decoded bundleMetadata
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: metadata.json is not valid JSON: %v", errs.ErrInvalidBundle, err)
	}

	if strings.TrimSpace(decoded.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", errs.ErrInvalidBundle)
	}
	if strings.TrimSpace(decoded.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", errs.ErrInvalidBundle)
	}

	level, err := normalizeLevel(decoded.Level)
	if err != nil {
		return nil, err
	}

	version := decoded.Version
	if strings.TrimSpace(version) == "" {
		version = "latest"
	}

	return &parsedBundle{
		Title:       decoded.Title,
		Version:     version,
		Description: decoded.Description,
		Level:       level,
		Raw:         json.RawMessage(raw),
	}, nil
}

// normalizeLevel matches level case-insensitively against the three
// legal values (P8) and returns the canonical lowercase form, or
// ErrInvalidBundle for anything else.
func normalizeLevel(level string) (models.ExerciseLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case string(models.LevelBeginner):
		return models.LevelBeginner, nil
	case string(models.LevelIntermediate):
		return models.LevelIntermediate, nil
	case string(models.LevelAdvanced):
		return models.LevelAdvanced, nil
	default:
		return "", fmt.Errorf("%w: level %q is not one of beginner/intermediate/advanced", errs.ErrInvalidBundle, level)
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// slugify lowercases a title and collapses runs of whitespace into a
// single hyphen, per spec §4.C step 4. This is unrelated to the
// adjective-noun util.RandomSlugWord, which is used separately for
// container naming (SPEC_FULL §9).
func slugify(title string) string {
	lowered := strings.ToLower(strings.TrimSpace(title))
	return whitespaceRun.ReplaceAllString(lowered, "-")
}

// imageTag derives the Docker image tag per spec §4.C step 4:
// training/<slug(title)>:<version>.
func imageTag(title, version string) string {
	return fmt.Sprintf("training/%s:%s", slugify(title), version)
}
