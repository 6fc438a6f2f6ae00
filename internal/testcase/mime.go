package testcase

import (
	"mime"
	"path"
	"strings"
)

// extra types the platform mime database tends to miss
var extTypes = map[string]string{
	".htm":  "text/html",
	".html": "text/html",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".json": "application/json",
	".svg":  "image/svg+xml",
	".webm": "video/webm",
	".wasm": "application/wasm",
	".woff": "font/woff",
}

// ContentType infers the content type of an entry from its path extension.
// Unknown extensions fall back to application/octet-stream.
func ContentType(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if t, ok := extTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
