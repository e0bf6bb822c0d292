package client

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

func TestLoadSettingsMissingFileReturnsDefaults(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	defaults := DefaultSettings()
	if settings.Theme != defaults.Theme || !settings.EnableRealtime {
		t.Fatalf("expected defaults, got %+v", settings)
	}
	if len(settings.QuickMoodCategories) != len(defaults.QuickMoodCategories) {
		t.Fatalf("expected default quick categories, got %+v", settings.QuickMoodCategories)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	want := Settings{
		Theme:               "dark",
		EnableRealtime:      false,
		EnableNotifications: true,
		QuickMoodCategories: []moodtrace.Category{moodtrace.CategoryFocused},
		DefaultMoodDuration: 30,
	}
	if err := SaveSettings(path, want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got.Theme != "dark" || got.EnableRealtime || !got.EnableNotifications {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.QuickMoodCategories) != 1 || got.QuickMoodCategories[0] != moodtrace.CategoryFocused {
		t.Fatalf("round trip mismatch: %+v", got.QuickMoodCategories)
	}
}

func TestSaveSettingsRejectsInvalidTheme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	bad := DefaultSettings()
	bad.Theme = "sepia"
	if err := SaveSettings(path, bad); !errors.Is(err, moodtrace.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for an unknown theme, got %v", err)
	}
}

func TestValidateSettingsDocument(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"valid", `{"theme":"light","enableRealtime":true}`, false},
		{"empty object", `{}`, false},
		{"unknown field", `{"theme":"light","font":"mono"}`, true},
		{"bad category", `{"quickMoodCategories":["melancholy"]}`, true},
		{"zero duration", `{"defaultMoodDuration":0}`, true},
		{"not json", `{`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSettingsDocument([]byte(tc.doc))
			if tc.wantErr && err == nil {
				t.Fatalf("expected a validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
