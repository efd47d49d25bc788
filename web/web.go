// Package web embeds the HTML templates and static assets.
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.tmpl
var Templates embed.FS

//go:embed static
var static embed.FS

// Static is rooted at the static directory, ready for http.FS.
var Static = mustSub(static, "static")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
