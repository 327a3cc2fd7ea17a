package web

import (
	"embed"
	"io/fs"
)

//go:embed static
var ContentFS embed.FS

// StaticFS holds the stylesheet and script of the status page.
func StaticFS() fs.FS {
	staticFS, _ := fs.Sub(ContentFS, "static")
	return staticFS
}
