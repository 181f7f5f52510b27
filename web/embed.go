// Package web embeds the built directory frontend.
package web

import (
	"embed"
	"fmt"
	"io/fs"
)

// IndexFile is the single-page entry point every client-side route falls back to.
const IndexFile = "index.html"

//go:embed all:dist
var dist embed.FS

// FS returns the frontend files rooted at dist. It fails when the build carries no
// index.html, so a server never starts with a broken frontend.
func FS() (fs.FS, error) {
	root, err := fs.Sub(dist, "dist")
	if err != nil {
		return nil, err
	}
	if _, err := fs.Stat(root, IndexFile); err != nil {
		return nil, fmt.Errorf("frontend build has no %s: %w", IndexFile, err)
	}
	return root, nil
}
