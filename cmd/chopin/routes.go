package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mevdschee/chopin/httpwire"
	"github.com/mevdschee/chopin/metrics"
	"github.com/mevdschee/chopin/pgconn"
	"github.com/mevdschee/chopin/respcache"
	"github.com/mevdschee/chopin/router"
	"github.com/mevdschee/chopin/worker"
	"github.com/mevdschee/chopin/writebatch"
)

// widgetCacheTTL is the route-level freshness hint for GET /widgets/:id
// (spec.md §9 / SPEC_FULL §4.16: respcache has no opinion on TTL, the
// route picks one).
const widgetCacheTTL = 5 * time.Second

// registerRoutes wires the demo widget routes onto r: a cached read
// path through pgconn + respcache, and a batched write path through
// writebatch.
func registerRoutes(r *router.Router, cache *respcache.Cache) {
	r.Add("GET", "/healthz", worker.Handler(healthHandler))
	r.Add("GET", "/widgets/:id", worker.Handler(cachedWidgetHandler(cache)))
	r.Add("POST", "/widgets", worker.Handler(createWidgetHandler))
}

func healthHandler(req *httpwire.Request, params []router.Param, pg *pgconn.Conn, wb *writebatch.Manager) *httpwire.Response {
	status := "ok"
	if pg == nil {
		status = "pg_unavailable"
	}
	return &httpwire.Response{
		Status:      200,
		ContentType: "text/plain",
		Kind:        httpwire.BodyBytes,
		Bytes:       []byte(status),
	}
}

// cachedWidgetHandler returns a Handler reading one widget by id,
// serving from cache when possible and falling back to PG on a cold or
// stale key. The single-flight dance here mirrors the teacher's own
// cache.GetOrWait usage in its PostgreSQL proxy (postgres/postgres.go):
// the first caller for a key fetches and populates, every concurrent
// caller waits for that fetch instead of stampeding PG.
func cachedWidgetHandler(cache *respcache.Cache) worker.Handler {
	return func(req *httpwire.Request, params []router.Param, pg *pgconn.Conn, wb *writebatch.Manager) *httpwire.Response {
		id, ok := paramValue(params, "id")
		if !ok {
			return &httpwire.Response{Status: 400, Kind: httpwire.BodyEmpty}
		}
		key := "widget:" + id

		if value, _, ok, _ := cache.GetOrWait(key); ok {
			metrics.CacheHits.WithLabelValues("/widgets/:id").Inc()
			return &httpwire.Response{Status: 200, ContentType: "application/json", Kind: httpwire.BodyBytes, Bytes: value}
		}
		metrics.CacheMisses.WithLabelValues("/widgets/:id").Inc()

		if pg == nil {
			cache.CancelInflight(key)
			return &httpwire.Response{Status: 503, Kind: httpwire.BodyEmpty}
		}

		start := time.Now()
		row, err := pg.QueryRow("SELECT id, name, quantity FROM widgets WHERE id = $1", pgconn.Raw([]byte(id)))
		metrics.PGQueryLatency.WithLabelValues("extended").Observe(time.Since(start).Seconds())
		if err == pgconn.ErrNoRows {
			metrics.PGQueriesTotal.WithLabelValues("extended", "miss").Inc()
			cache.CancelInflight(key)
			return &httpwire.Response{Status: 404, Kind: httpwire.BodyEmpty}
		}
		if err != nil {
			log.Printf("[chopin] query widget %s: %v", id, err)
			metrics.PGQueriesTotal.WithLabelValues("extended", "error").Inc()
			cache.CancelInflight(key)
			return &httpwire.Response{Status: 500, Kind: httpwire.BodyEmpty}
		}
		metrics.PGQueriesTotal.WithLabelValues("extended", "miss").Inc()

		name, _ := row.Text("name")
		quantity, _ := row.Int4("quantity")
		body := []byte(fmt.Sprintf(`{"id":%s,"name":%q,"quantity":%d}`, id, name, quantity))
		cache.SetAndNotify(key, body, widgetCacheTTL)

		return &httpwire.Response{Status: 200, ContentType: "application/json", Kind: httpwire.BodyBytes, Bytes: body}
	}
}

// createWidgetHandler inserts a widget through the worker's write
// batcher: concurrent POSTs within the same batching window share one
// round trip (writebatch.Manager.Enqueue), each still getting its own
// affected-row count back.
func createWidgetHandler(req *httpwire.Request, params []router.Param, pg *pgconn.Conn, wb *writebatch.Manager) *httpwire.Response {
	if pg == nil || wb == nil {
		return &httpwire.Response{Status: 503, Kind: httpwire.BodyEmpty}
	}
	name := formValue(req.Body, "name")
	if name == "" {
		return &httpwire.Response{Status: 400, Kind: httpwire.BodyEmpty}
	}

	result := wb.Enqueue(context.Background(), "widgets:insert",
		"INSERT INTO widgets (name, quantity) VALUES ($1, 0)",
		[]pgconn.BindParamValue{pgconn.Text(name)}, 10, nil)
	if result.Error != nil {
		log.Printf("[chopin] insert widget %q: %v", name, result.Error)
		return &httpwire.Response{Status: 500, Kind: httpwire.BodyEmpty}
	}
	metrics.WriteBatchedTotal.WithLabelValues("insert").Inc()

	body := []byte(fmt.Sprintf(`{"affected_rows":%d,"batch_size":%d}`, result.AffectedRows, result.BatchSize))
	return &httpwire.Response{Status: 201, ContentType: "application/json", Kind: httpwire.BodyBytes, Bytes: body}
}

func paramValue(params []router.Param, name string) (string, bool) {
	for _, p := range params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// formValue does a minimal application/x-www-form-urlencoded lookup
// without pulling in net/url's full Values machinery, since the only
// field this demo route reads is "name".
func formValue(body []byte, key string) string {
	for _, pair := range strings.Split(string(body), "&") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 && kv[0] == key {
			return kv[1]
		}
	}
	return ""
}
