package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pixbridge/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

var (
	eventTypeKeys = []string{"event_type", "event"}
	deviceIDKeys  = []string{"device_id", "deviceId", "d"}
	eventIDKeys   = []string{"event_id", "id"}
	createdAtKeys = []string{"created_at"}
)

// ingestHandler accepts booth events. The producer always gets 200 OK so it
// cannot tell a dropped event from a delivered one.
func (s *Server) ingestHandler(c *gin.Context) {
	env := parseIngress(c)
	s.pipeline.Ingest(env)
	c.String(http.StatusOK, "OK")
}

// parseIngress merges query parameters and, for POST, a JSON or form body
// into an envelope. Body fields win over query parameters.
func parseIngress(c *gin.Context) models.Envelope {
	fields := map[string]any{}
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			fields[key] = values[len(values)-1]
		}
	}

	if c.Request.Method == http.MethodPost {
		switch c.ContentType() {
		case binding.MIMEPOSTForm:
			if err := c.Request.ParseForm(); err == nil {
				for key, values := range c.Request.PostForm {
					if len(values) > 0 {
						fields[key] = values[len(values)-1]
					}
				}
			}
		default:
			var body map[string]any
			if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
				logRequestWarning(c, "Ignoring undecodable ingress body", err)
			}
			for key, value := range body {
				fields[key] = value
			}
		}
	}

	env := models.Envelope{
		EventType: models.EventType(takeString(fields, eventTypeKeys)),
		DeviceID:  takeString(fields, deviceIDKeys),
		EventID:   takeString(fields, eventIDKeys),
		CreatedAt: parseCreatedAt(take(fields, createdAtKeys)),
		Payload:   map[string]any{},
	}

	if nested, ok := fields["payload"].(map[string]any); ok {
		for key, value := range nested {
			env.Payload[key] = value
		}
	}
	delete(fields, "payload")
	for key, value := range fields {
		if _, exists := env.Payload[key]; !exists {
			env.Payload[key] = value
		}
	}
	return env
}

// take removes every alias from fields and returns the first present value.
func take(fields map[string]any, keys []string) any {
	var found any
	for _, key := range keys {
		if value, ok := fields[key]; ok {
			if found == nil {
				found = value
			}
			delete(fields, key)
		}
	}
	return found
}

func takeString(fields map[string]any, keys []string) string {
	switch v := take(fields, keys).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// parseCreatedAt accepts epoch milliseconds (number or string) or RFC 3339.
// Anything else yields 0, which makes the pipeline stamp the arrival time.
func parseCreatedAt(raw any) int64 {
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
