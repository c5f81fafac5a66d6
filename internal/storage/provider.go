// Package storage defines file access rooted at the wiki checkout.
package storage

import "time"

// Page is a lightweight description of a Markdown file in the checkout.
type Page struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for checkout file operations. All paths are
// relative to the checkout root.
type Provider interface {
	// Exists reports whether a file exists at path.
	Exists(path string) (bool, error)
	// List returns every .md file under dir.
	List(dir string) ([]Page, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
}
