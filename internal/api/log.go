package api

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"vocabvoice/pkg/logging"
)

const maxParamLen = 24

// key=value or key="quoted value"
var logKV = regexp.MustCompile(`([a-zA-Z0-9_\-.]+)=(?:"([^"]*)"|([^ ]+))`)

const maxTailLines = 50

// LogResponse is the body of GET /api/log/latest.
type LogResponse struct {
	Log   string   `json:"log"`
	Lines []string `json:"lines,omitempty"`
}

// handleLatestLog handles GET /api/log/latest[?lines=N]
func handleLatestLog(w http.ResponseWriter, r *http.Request) {
	resp := LogResponse{Log: formatLogLine(logging.GlobalLogCapture.GetLastLine())}
	if n, err := strconv.Atoi(r.URL.Query().Get("lines")); err == nil && n > 0 {
		for _, line := range logging.GlobalLogCapture.Lines(min(n, maxTailLines)) {
			resp.Lines = append(resp.Lines, formatLogLine(line))
		}
	}
	writeJSON(w, resp)
}

// formatLogLine turns a slog text line into "HH:MM:SS msg (k=v, ...)".
// Level is dropped and long values are omitted.
func formatLogLine(raw string) string {
	matches := logKV.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return raw
	}

	var msg, clock string
	params := make([]string, 0, len(matches))
	for _, m := range matches {
		key, val := m[1], m[2]
		if val == "" {
			val = m[3]
		}
		val = strings.TrimSpace(val)

		switch key {
		case "time":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				clock = t.Format("15:04:05")
			}
		case "level":
		case "msg":
			msg = val
		default:
			if val != "" && len(val) <= maxParamLen {
				params = append(params, key+"="+val)
			}
		}
	}
	if msg == "" {
		return raw
	}
	sort.Strings(params)

	out := msg
	if clock != "" {
		out = clock + " " + msg
	}
	if len(params) > 0 {
		out = fmt.Sprintf("%s (%s)", out, strings.Join(params, ", "))
	}
	return out
}
