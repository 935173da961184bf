package gateway

import (
	"encoding/json"
	"net/http"
)

// jsonRender is render.JSON with the relay's content type.
type jsonRender struct {
	v any
}

func (r jsonRender) Render(w http.ResponseWriter) error {
	r.WriteContentType(w)
	b, err := json.Marshal(r.v)
	if err != nil {
		b = []byte(`{"status":"fail"}`)
	}
	_, err = w.Write(b)
	return err
}

func (r jsonRender) WriteContentType(w http.ResponseWriter) {
	w.Header().Set("Content-Type", contentType)
}
