package webserver

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var assets embed.FS

// staticHandler serves the embedded browser UI, uncached.
func staticHandler() http.Handler {
	root, err := fs.Sub(assets, "static")
	if err != nil {
		panic(err)
	}
	files := http.FileServer(http.FS(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		files.ServeHTTP(w, r)
	})
}
