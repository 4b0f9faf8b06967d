package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// PathTemplateData holds the data for path template execution
type PathTemplateData struct {
	Artist     string
	Collection string // album or playlist title, empty for single tracks
	Disc       string
	Track      string
	Title      string
	TrackID    string
}

// BuildPath executes the template and returns the relative path (without extension)
func BuildPath(templateStr string, data *PathTemplateData) (string, error) {
	tmpl, err := template.New("subdir").Option("missingkey=error").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// BuildPathTemplateData creates PathTemplateData from track metadata
func BuildPathTemplateData(artist, collection string, discNum, trackNum int, title, trackID string) *PathTemplateData {
	if discNum <= 0 {
		discNum = 1
	}
	return &PathTemplateData{
		Artist:     Sanitize(artist),
		Collection: Sanitize(collection),
		Disc:       fmt.Sprintf("%02d", discNum),
		Track:      fmt.Sprintf("%02d", trackNum),
		Title:      Sanitize(title),
		TrackID:    trackID,
	}
}

// BuildFullPath constructs the complete file path with extension
func BuildFullPath(downloadsDir, templateStr string, data *PathTemplateData, ext string) (string, error) {
	relPath, err := BuildPath(templateStr, data)
	if err != nil {
		return "", err
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	fullPath := filepath.Clean(filepath.Join(downloadsDir, relPath+ext))

	// the template must not be able to escape the library root
	root := filepath.Clean(downloadsDir)
	if fullPath != root && !strings.HasPrefix(fullPath, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes downloads dir", fullPath)
	}

	return fullPath, nil
}
