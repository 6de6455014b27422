// ABOUTME: Embedded static browser client served from the gateway binary
// ABOUTME: Exposes the www directory as an http.Handler via go:embed

package assets

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed all:www
var wwwFS embed.FS

// Handler returns a file server rooted at the embedded client directory.
func Handler() http.Handler {
	sub, err := fs.Sub(wwwFS, "www")
	if err != nil {
		// The embed directive guarantees www exists at build time
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
