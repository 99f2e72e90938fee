package model

import (
	"fmt"
	"os"
)

// Artifact describes the output of a successful render: the file on local
// disk plus the metadata a notifier needs to present it.
type Artifact struct {
	Title       string `json:"title"`
	Format      Format `json:"filetype"`
	FilePath    string `json:"filepath"`
	FileURL     string `json:"fileurl,omitempty"` // remote URL, set only when archival ran
	ViewURL     string `json:"viewurl"`           // authenticated or short-linked source page
	Description string `json:"description,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
}

// NewArtifact constructs an Artifact after verifying the file exists on
// disk. A missing file is a render failure, never a dangling descriptor.
func NewArtifact(title string, format Format, filePath, fileURL, viewURL, description string) (*Artifact, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("rendered file missing at %s: %w", filePath, err)
	}
	return &Artifact{
		Title:       title,
		Format:      format,
		FilePath:    filePath,
		FileURL:     fileURL,
		ViewURL:     viewURL,
		Description: description,
		Bytes:       info.Size(),
	}, nil
}
