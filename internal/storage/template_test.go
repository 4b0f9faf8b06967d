package storage

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildPath(t *testing.T) {
	tests := []struct {
		name       string
		template   string
		data       *PathTemplateData
		want       string
		wantErr    bool
		errContain string
	}{
		{
			name:     "default template",
			template: "{{.Artist}}/{{.Collection}}/{{.Disc}}-{{.Track}} {{.Title}}",
			data: &PathTemplateData{
				Artist:     "Pink Floyd",
				Collection: "The Dark Side of the Moon",
				Disc:       "01",
				Track:      "01",
				Title:      "Speak to Me",
			},
			want: "Pink Floyd/The Dark Side of the Moon/01-01 Speak to Me",
		},
		{
			name:     "template with only filename",
			template: "{{.Track}} - {{.Title}}",
			data: &PathTemplateData{
				Track: "10",
				Title: "Song Title",
			},
			want: "10 - Song Title",
		},
		{
			name:       "invalid template syntax",
			template:   "{{.Artist",
			data:       &PathTemplateData{Artist: "Test"},
			wantErr:    true,
			errContain: "failed to parse template",
		},
		{
			name:       "unknown field",
			template:   "{{.Year}}",
			data:       &PathTemplateData{},
			wantErr:    true,
			errContain: "failed to execute template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildPath(tt.template, tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContain) {
					t.Errorf("Expected error containing %q, got %v", tt.errContain, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("BuildPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildPathTemplateData(t *testing.T) {
	data := BuildPathTemplateData("AC/DC", "Back in Black", 0, 3, "Shoot: to Thrill", "42")

	if data.Artist != "ACDC" {
		t.Errorf("Expected sanitized artist, got %q", data.Artist)
	}
	if data.Disc != "01" {
		t.Errorf("Expected unknown disc to default to 01, got %q", data.Disc)
	}
	if data.Track != "03" {
		t.Errorf("Expected zero padded track, got %q", data.Track)
	}
	if data.Title != "Shoot to Thrill" {
		t.Errorf("Expected sanitized title, got %q", data.Title)
	}
}

func TestBuildFullPath(t *testing.T) {
	root := t.TempDir()
	data := BuildPathTemplateData("Daft Punk", "", 1, 1, "One More Time", "3135556")

	got, err := BuildFullPath(root, "{{.Artist}}/{{.Collection}}/{{.Track}} {{.Title}}", data, "mp3")
	if err != nil {
		t.Fatalf("BuildFullPath failed: %v", err)
	}
	want := filepath.Join(root, "Daft Punk", "01 One More Time.mp3")
	if got != want {
		t.Errorf("BuildFullPath() = %q, want %q", got, want)
	}

	if _, err := BuildFullPath(root, "../{{.Title}}", data, ".mp3"); err == nil {
		t.Error("Expected error for path escaping the downloads dir")
	}
}
