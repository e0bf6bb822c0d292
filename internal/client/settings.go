package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

// Settings is the durable preferences document.
type Settings struct {
	Theme               string               `json:"theme"`
	EnableRealtime      bool                 `json:"enableRealtime"`
	EnableNotifications bool                 `json:"enableNotifications"`
	QuickMoodCategories []moodtrace.Category `json:"quickMoodCategories"`
	DefaultMoodDuration int                  `json:"defaultMoodDuration"`
}

func DefaultSettings() Settings {
	return Settings{
		Theme:          "system",
		EnableRealtime: true,
		QuickMoodCategories: []moodtrace.Category{
			moodtrace.CategoryCalm,
			moodtrace.CategoryHappy,
			moodtrace.CategoryStressed,
			moodtrace.CategoryTired,
		},
		DefaultMoodDuration: 60,
	}
}

const settingsSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"theme": {"type": "string", "enum": ["light", "dark", "system"]},
		"enableRealtime": {"type": "boolean"},
		"enableNotifications": {"type": "boolean"},
		"quickMoodCategories": {
			"type": "array",
			"items": {
				"type": "string",
				"enum": ["calm", "happy", "energetic", "anxious", "tired", "focused", "stressed", "grateful"]
			}
		},
		"defaultMoodDuration": {"type": "integer", "minimum": 1}
	},
	"additionalProperties": false
}`

var (
	settingsSchemaOnce sync.Once
	settingsSchema     *jsonschema.Schema
	settingsSchemaErr  error
)

func compiledSettingsSchema() (*jsonschema.Schema, error) {
	settingsSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(settingsSchemaJSON))
		if err != nil {
			settingsSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("moodtrace-settings.json", doc); err != nil {
			settingsSchemaErr = err
			return
		}
		settingsSchema, settingsSchemaErr = compiler.Compile("moodtrace-settings.json")
	})
	return settingsSchema, settingsSchemaErr
}

// ValidateSettingsDocument checks raw JSON against the settings schema.
func ValidateSettingsDocument(data []byte) error {
	schema, err := compiledSettingsSchema()
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s", moodtrace.ErrInvalidInput, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s", moodtrace.ErrInvalidInput, err)
	}
	return nil
}

// LoadSettings reads and validates the settings document, falling back to
// defaults when the file does not exist.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return Settings{}, err
	}
	if err := ValidateSettingsDocument(data); err != nil {
		return Settings{}, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// SaveSettings validates and atomically writes the settings document.
func SaveSettings(path string, settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	if err := ValidateSettingsDocument(data); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o644)
}
