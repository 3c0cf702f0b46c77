package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"twin-gateway/internal/models"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBytes))
}

// parseTimeParam accepts the same layouts as telemetry timestamps. An empty
// value yields the zero time.
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return time.Time{}, err
	}
	ts, _, err := models.ParseTimestamp(raw)
	return ts, err
}

// jsonObject decodes body into out, requiring a JSON object.
func jsonObject(body []byte, out *map[string]any) error {
	if err := json.Unmarshal(body, out); err != nil || *out == nil {
		return errors.New("body must be a JSON object")
	}
	return nil
}
