package audiocache

import (
	"bytes"
	"net/http"
	"strings"
)

// Handler serves cached audio at GET /audio/{key}.{ext}. The key is
// validated against the 64-hex-char form before any lookup, so path
// traversal and enumeration probes never reach the store.
func (c *Cache) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/audio/")
		key, ext, ok := splitName(name)
		if !ok {
			http.Error(w, "invalid audio key", http.StatusBadRequest)
			return
		}
		entry, found := c.Get(key)
		if !found || entry.Format != ext {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", entry.ContentType)
		w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
		// ServeContent handles Range and conditional requests.
		http.ServeContent(w, r, name, entry.CreatedAt, bytes.NewReader(entry.Bytes))
	}
}

func splitName(name string) (key, ext string, ok bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		return "", "", false
	}
	key, ext = name[:dot], name[dot+1:]
	if !ValidKey(key) {
		return "", "", false
	}
	switch ext {
	case "mp3", "ogg", "wav":
		return key, ext, true
	}
	return "", "", false
}
