package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
	"github.com/valyala/fastjson"

	"github.com/reqgrid/reqgrid/internal/errors"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// RequestIDHeader carries the upstream request id when the proxy sets one.
const RequestIDHeader = "X-Request-Id"

// maxLineSize bounds one log line; longer lines are counted as malformed.
const maxLineSize = 1 << 20

// AccessLogParser decodes JSON-lines reverse-proxy access logs. It accepts the
// nested layout written by Caddy
//
//	{"ts":1710410400.123,"request":{"method":"GET","host":"api.example.com",
//	 "uri":"/v1/users?page=2","headers":{"X-Request-Id":["a1"]}},
//	 "status":200,"duration":0.0421,"regions":["ams","fra"]}
//
// as well as a flat layout with timestamp (unix ms or RFC3339), method, host,
// path, status and latency_ms keys. An optional "timing" object carries phase
// durations in milliseconds.
//
// AccessLogParser is safe for concurrent use.
type AccessLogParser struct {
	pool fastjson.ParserPool
}

// NewAccessLogParser creates a parser.
func NewAccessLogParser() *AccessLogParser {
	return &AccessLogParser{}
}

// ParseLine decodes one log line. lineNo seeds the fallback row id so that two
// identical lines still get distinct ids.
func (p *AccessLogParser) ParseLine(line []byte, lineNo int) (types.Row, error) {
	parser := p.pool.Get()
	defer p.pool.Put(parser)

	v, err := parser.ParseBytes(line)
	if err != nil {
		return types.Row{}, errors.NewSourceError(errors.CodeMalformedRecord, "invalid JSON", err)
	}
	if v.Type() != fastjson.TypeObject {
		return types.Row{}, errors.NewSourceError(errors.CodeMalformedRecord, "log line is not an object", nil)
	}

	ts, err := parseTimestamp(v)
	if err != nil {
		return types.Row{}, errors.NewSourceError(errors.CodeMalformedRecord, "invalid timestamp", err)
	}
	status := v.GetInt("status")
	if status == 0 {
		status = v.GetInt("status_code")
	}
	if status <= 0 {
		return types.Row{}, errors.NewSourceError(errors.CodeMalformedRecord, "missing status", nil)
	}

	req := v.Get("request")
	row := types.Row{
		Timestamp:     ts,
		StatusCode:    status,
		SeverityLevel: types.SeverityFromStatus(status),
		Method:        strings.ToUpper(firstString(req, v, "method")),
		Host:          firstString(req, v, "host"),
		Pathname:      pathOf(req, v),
		LatencyMs:     latencyOf(v),
		RegionTags:    stringList(v.Get("regions")),
		Headers:       headersOf(req),
		Message:       string(v.GetStringBytes("msg")),
		Timing:        timingOf(v.Get("timing")),
	}
	if row.Message == "" {
		row.Message = string(v.GetStringBytes("message"))
	}

	row.ID = string(v.GetStringBytes("id"))
	if row.ID == "" {
		row.ID = headerValue(row.Headers, RequestIDHeader)
	}
	if row.ID == "" {
		row.ID = fmt.Sprintf("%016x", murmur3.Sum64WithSeed(line, uint32(lineNo)))
	}
	return row, nil
}

// ReadRows parses every line of r. Blank lines are ignored; malformed lines
// are skipped and counted.
func (p *AccessLogParser) ReadRows(ctx context.Context, r io.Reader) ([]types.Row, LoadStats, error) {
	var (
		rows  []types.Row
		stats LoadStats
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		stats.Lines++
		if stats.Lines%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		row, err := p.ParseLine(line, stats.Lines)
		if err != nil {
			stats.Skipped++
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("failed to read log: %w", err)
	}
	stats.Rows = len(rows)
	return rows, stats, nil
}

func parseTimestamp(v *fastjson.Value) (time.Time, error) {
	if ts := v.Get("ts"); ts != nil {
		switch ts.Type() {
		case fastjson.TypeNumber:
			sec := ts.GetFloat64()
			whole, frac := math.Modf(sec)
			return time.Unix(int64(whole), int64(frac*1e9)).UTC().Truncate(time.Millisecond), nil
		case fastjson.TypeString:
			return parseTimeString(string(ts.GetStringBytes()))
		}
	}
	if ts := v.Get("timestamp"); ts != nil {
		switch ts.Type() {
		case fastjson.TypeNumber:
			return time.UnixMilli(ts.GetInt64()).UTC(), nil
		case fastjson.TypeString:
			return parseTimeString(string(ts.GetStringBytes()))
		}
	}
	return time.Time{}, fmt.Errorf("no ts or timestamp key")
}

func parseTimeString(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(time.Millisecond), nil
}

// firstString reads key from the nested request object, falling back to the
// top level.
func firstString(req, top *fastjson.Value, key string) string {
	if req != nil {
		if s := req.GetStringBytes(key); len(s) > 0 {
			return string(s)
		}
	}
	return string(top.GetStringBytes(key))
}

func pathOf(req, top *fastjson.Value) string {
	raw := firstString(req, top, "uri")
	if raw == "" {
		raw = firstString(req, top, "path")
	}
	if raw == "" {
		return ""
	}
	if u, err := url.ParseRequestURI(raw); err == nil {
		return u.Path
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// latencyOf prefers duration in seconds and falls back to latency_ms.
func latencyOf(v *fastjson.Value) float64 {
	if d := v.Get("duration"); d != nil && d.Type() == fastjson.TypeNumber {
		return math.Round(d.GetFloat64()*1e6) / 1e3
	}
	return v.GetFloat64("latency_ms")
}

// stringList accepts a JSON array of strings or a comma-separated string.
func stringList(v *fastjson.Value) []string {
	if v == nil {
		return nil
	}
	var out []string
	switch v.Type() {
	case fastjson.TypeArray:
		for _, el := range v.GetArray() {
			if s := strings.TrimSpace(string(el.GetStringBytes())); s != "" {
				out = append(out, s)
			}
		}
	case fastjson.TypeString:
		for _, s := range strings.Split(string(v.GetStringBytes()), ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// headersOf flattens Caddy's multi-valued headers into "a, b" strings.
func headersOf(req *fastjson.Value) map[string]string {
	if req == nil {
		return nil
	}
	obj := req.GetObject("headers")
	if obj == nil || obj.Len() == 0 {
		return nil
	}
	headers := make(map[string]string, obj.Len())
	obj.Visit(func(key []byte, v *fastjson.Value) {
		if vals := stringList(v); len(vals) > 0 {
			headers[string(key)] = strings.Join(vals, ", ")
		}
	})
	return headers
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func timingOf(v *fastjson.Value) *types.Timing {
	if v == nil || v.Type() != fastjson.TypeObject {
		return nil
	}
	return &types.Timing{
		DNS:        v.GetFloat64("dns"),
		Connection: v.GetFloat64("connection"),
		TLS:        v.GetFloat64("tls"),
		TTFB:       v.GetFloat64("ttfb"),
		Transfer:   v.GetFloat64("transfer"),
	}
}
