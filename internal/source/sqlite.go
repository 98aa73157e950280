package source

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/valyala/fastjson"

	"github.com/reqgrid/reqgrid/pkg/types"
)

// DefaultTable is the request table read when none is configured.
const DefaultTable = "requests"

// RequestsTableDDL creates a table SQLiteSource can read. Timestamps are unix
// milliseconds, region_tags is comma-separated and headers is a JSON object.
// Timing columns are NULL for rows without phase data.
const RequestsTableDDL = `CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	timestamp_ms  INTEGER NOT NULL,
	status_code   INTEGER NOT NULL,
	method        TEXT NOT NULL DEFAULT '',
	host          TEXT NOT NULL DEFAULT '',
	pathname      TEXT NOT NULL DEFAULT '',
	latency_ms    REAL NOT NULL DEFAULT 0,
	region_tags   TEXT NOT NULL DEFAULT '',
	headers       TEXT,
	message       TEXT,
	dns_ms        REAL,
	connection_ms REAL,
	tls_ms        REAL,
	ttfb_ms       REAL,
	transfer_ms   REAL
)`

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteSource reads rows from a SQLite request table opened read-only.
type SQLiteSource struct {
	path  string
	table string
}

// NewSQLiteSource creates a source for table in the database at path.
// An empty table selects DefaultTable.
func NewSQLiteSource(path, table string) (*SQLiteSource, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SQLiteSource{path: path, table: table}, nil
}

// Name returns "sqlite:<base name>/<table>".
func (s *SQLiteSource) Name() string {
	return "sqlite:" + filepath.Base(s.path) + "/" + s.table
}

// Load reads every row of the table ordered by timestamp.
func (s *SQLiteSource) Load(ctx context.Context) ([]types.Row, error) {
	db, err := sql.Open("sqlite3", s.path+"?mode=ro&_query_only=true")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	query := fmt.Sprintf(`SELECT id, timestamp_ms, status_code, method, host, pathname,
		latency_ms, region_tags, headers, message,
		dns_ms, connection_ms, tls_ms, ttfb_ms, transfer_ms
		FROM %s ORDER BY timestamp_ms, rowid`, s.table)
	rs, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.table, err)
	}
	defer rs.Close()

	var (
		rows   []types.Row
		parser fastjson.Parser
	)
	for rs.Next() {
		var (
			r                              types.Row
			tsMs                           int64
			regions                        string
			headers, message               sql.NullString
			dns, conn, tls, ttfb, transfer sql.NullFloat64
		)
		if err := rs.Scan(&r.ID, &tsMs, &r.StatusCode, &r.Method, &r.Host, &r.Pathname,
			&r.LatencyMs, &regions, &headers, &message,
			&dns, &conn, &tls, &ttfb, &transfer); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Timestamp = time.UnixMilli(tsMs).UTC()
		r.SeverityLevel = types.SeverityFromStatus(r.StatusCode)
		r.Message = message.String
		for _, tag := range strings.Split(regions, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				r.RegionTags = append(r.RegionTags, tag)
			}
		}
		if headers.Valid && headers.String != "" {
			r.Headers, err = decodeHeaders(&parser, headers.String)
			if err != nil {
				return nil, fmt.Errorf("row %s: invalid headers: %w", r.ID, err)
			}
		}
		if dns.Valid || conn.Valid || tls.Valid || ttfb.Valid || transfer.Valid {
			r.Timing = &types.Timing{
				DNS:        dns.Float64,
				Connection: conn.Float64,
				TLS:        tls.Float64,
				TTFB:       ttfb.Float64,
				Transfer:   transfer.Float64,
			}
		}
		rows = append(rows, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return rows, nil
}

func decodeHeaders(p *fastjson.Parser, raw string) (map[string]string, error) {
	v, err := p.Parse(raw)
	if err != nil {
		return nil, err
	}
	obj, err := v.Object()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, obj.Len())
	obj.Visit(func(key []byte, v *fastjson.Value) {
		if vals := stringList(v); len(vals) > 0 {
			out[string(key)] = strings.Join(vals, ", ")
		}
	})
	return out, nil
}
