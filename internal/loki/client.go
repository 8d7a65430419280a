// Package loki is a minimal push-API client for shipping log lines to Loki,
// the optional sink internal/logging tees zap output into when
// LOKI_ENDPOINT is configured (A2).
package loki

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Entry is a single log line destined for Loki.
type Entry struct {
	Timestamp time.Time
	Line      string
	Labels    map[string]string
}

// Batch groups entries pushed together; Loki streams are keyed by label set,
// so entries sharing labels are merged into one stream on Push.
type Batch struct {
	Entries []Entry
}

// Client is a minimal Loki push-API client.
type Client struct {
	Endpoint     string
	HTTP         *http.Client
	StaticLabels map[string]string
}

func New(endpoint string, static map[string]string) *Client {
	return &Client{Endpoint: endpoint, HTTP: &http.Client{Timeout: 5 * time.Second}, StaticLabels: static}
}

// Push encodes batch into Loki's /loki/api/v1/push stream schema and sends
// it gzip-compressed.
func (c *Client) Push(batch Batch) error {
	grouped := map[string][][2]string{}
	for _, e := range batch.Entries {
		labels := make(map[string]string, len(c.StaticLabels)+len(e.Labels))
		for k, v := range c.StaticLabels {
			labels[k] = v
		}
		for k, v := range e.Labels {
			labels[k] = v
		}
		key := labelSetKey(labels)
		grouped[key] = append(grouped[key], [2]string{formatNano(e.Timestamp.UTC().UnixNano()), e.Line})
	}

	streams := make([]map[string]any, 0, len(grouped))
	for l, values := range grouped {
		streams = append(streams, map[string]any{"stream": l, "values": values})
	}
	body := map[string]any{"streams": streams}

	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	if err := json.NewEncoder(gz).Encode(body); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.Endpoint+"/loki/api/v1/push", buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// labelSetKey serializes a label set into Loki's {k="v",...} stream selector
// syntax.
func labelSetKey(labels map[string]string) string {
	var sb bytes.Buffer
	sb.WriteByte('{')
	first := true
	for k, v := range labels {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(v)
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

func formatNano(n int64) string { return strconv.FormatInt(n, 10) }
