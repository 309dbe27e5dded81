package server

import (
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/stoopler-tools/background-changer/telemetry"
)

var imagePage = template.Must(template.New("image").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Background</title>
<style>
html, body { margin: 0; height: 100%; background: transparent; }
img { width: 100%; height: 100%; object-fit: cover; }
.placeholder { display: flex; height: 100%; align-items: center; justify-content: center; font-family: sans-serif; color: #888; }
</style>
</head>
<body>
{{if .HasImage}}<img src="/api/image/file?v={{.Version}}" alt="{{.Alt}}">{{else}}<div class="placeholder">No image yet</div>{{end}}
</body>
</html>
`))

type imagePageData struct {
	HasImage bool
	Version  int64
	Alt      string
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// imageDir is where fulfilment writes downloaded images.
func (h *Handlers) imageDir() string {
	return filepath.Join(h.Config.DataDir, "images")
}

// currentFile returns the current image file if it lies inside the image dir.
func (h *Handlers) currentFile() (string, bool) {
	_, file := h.Store.CurrentImage()
	if file == "" {
		return "", false
	}
	dir, err := filepath.Abs(h.imageDir())
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return abs, true
}

// HandleImagePage renders the page OBS loads as a browser source.
func (h *Handlers) HandleImagePage(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, ok := h.currentFile()
	data := imagePageData{HasImage: ok, Version: time.Now().UnixNano(), Alt: "Current background"}
	if err := imagePage.Execute(w, data); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("render image page", slog.Any("err", err), slog.String("component", "http"))
	}
}

// HandleImageFile serves the current image file.
func (h *Handlers) HandleImageFile(w http.ResponseWriter, r *http.Request) {
	file, ok := h.currentFile()
	if !ok {
		writeError(w, http.StatusNotFound, "no image")
		return
	}
	noCache(w)
	http.ServeFile(w, r, file)
}
