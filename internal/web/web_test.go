package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appdate/internal/config"
	"appdate/internal/ics"
	"appdate/internal/metrics"
	"appdate/internal/model"
	"appdate/internal/session"
	"appdate/internal/store"
)

var fixedNow = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

type fixture struct {
	handler http.Handler
	session *session.Session
	store   *store.Memory
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	now := func() time.Time { return fixedNow }

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.IngestSecret = "sekret"
	if mutate != nil {
		mutate(cfg)
	}

	st := store.NewMemory(store.WithClock(now))
	t.Cleanup(func() { st.Close() })

	m := metrics.NewManager()
	sess := session.New(st, session.Options{
		Location:  time.UTC,
		WeekStart: time.Monday,
		Metrics:   m,
		Now:       now,
	})
	require.NoError(t, sess.Start())
	t.Cleanup(sess.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sess.WaitReady(ctx))

	srv := NewServer(cfg, Deps{
		Session:  sess,
		Store:    st,
		Importer: &ics.Importer{Store: st, Location: time.UTC, Now: now},
		Metrics:  m,
		Location: time.UTC,
		Now:      now,
	})
	return &fixture{handler: srv.Handler(), session: sess, store: st}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) waitTotal(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.session.View().Total == n
	}, 2*time.Second, 5*time.Millisecond)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)

	rec := f.do(t, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndList(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/events", `{"title":"Dentist","start":"2025-01-08T15:00:00Z","location":"Praxis"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Event](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.SourceManual, created.Source)

	f.waitTotal(t, 1)
	resp := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events", ""))
	require.Len(t, resp.Days, 1)
	assert.Equal(t, "2025-01-08", resp.Days[0].Date)
	assert.Equal(t, "Dentist", resp.Days[0].Occurrences[0].Title)
	assert.Equal(t, "UTC", resp.Timezone)

	resp = decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?q=praxis&date=2025-01-07", ""))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "2025-01-08", resp.Nearest)

	resp = decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?category=exchange", ""))
	assert.Zero(t, resp.Total)

	rec = f.do(t, http.MethodGet, "/api/events?range=decade", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAndUpdateErrors(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/events", `{"start":"2025-01-08T15:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/events", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/events/missing", `{"title":"x","start":"2025-01-08T15:00:00Z"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExcludeAndDeleteSeries(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/events",
		`{"title":"Standup","start":"2025-01-06T09:00:00Z","recurrence":"weekly","recurrenceEnd":"2025-01-27"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	series := decode[model.Event](t, rec)
	rec = f.do(t, http.MethodPost, "/api/events", `{"title":"Once","start":"2025-01-09T09:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	once := decode[model.Event](t, rec)
	f.waitTotal(t, 5)

	rec = f.do(t, http.MethodPost, "/api/events/"+series.ID+"/exclude?date=2025-01-13", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"2025-01-13"}, decode[model.Event](t, rec).ExcludedDates)
	f.waitTotal(t, 4)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/events/"+once.ID+"/exclude?date=2025-01-09", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/events/"+series.ID+"/exclude?date=13.01.2025", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/events/"+series.ID+"/exclude", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/events/nope/exclude?date=2025-01-13", "").Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/events/"+series.ID, "").Code)
	f.waitTotal(t, 1)
}

func TestFilterEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/events", `{"title":"Gym","start":"2025-01-07T18:00:00Z"}`).Code)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/events", `{"title":"Later","start":"2025-03-07T18:00:00Z"}`).Code)
	f.waitTotal(t, 2)

	rec := f.do(t, http.MethodPut, "/api/filter", `{"range":"week"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[eventsResponse](t, rec)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "2025-01-06", resp.Range.From)

	got := decode[session.Filter](t, f.do(t, http.MethodGet, "/api/filter", ""))
	require.NotNil(t, got.Range)
	assert.Equal(t, "2025-01-12", got.Range.To)

	resp = decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events", ""))
	assert.Equal(t, 1, resp.Total)

	resp = decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events?from=2025-03-01&to=2025-03-31", ""))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "Later", resp.Days[0].Occurrences[0].Title)
}

func TestSelectionFlow(t *testing.T) {
	f := newFixture(t, nil)
	var ids []string
	for _, title := range []string{"A", "B", "C"} {
		rec := f.do(t, http.MethodPost, "/api/events", `{"title":"`+title+`","start":"2025-01-07T09:00:00Z"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		ids = append(ids, decode[model.Event](t, rec).ID)
	}
	f.waitTotal(t, 3)

	sel := decode[selectionResponse](t, f.do(t, http.MethodPost, "/api/selection", `{"active":true,"ids":["`+ids[0]+`"]}`))
	assert.True(t, sel.Active)
	assert.Equal(t, []string{ids[0]}, sel.IDs)

	sel = decode[selectionResponse](t, f.do(t, http.MethodPost, "/api/selection/toggle?id="+ids[1], ""))
	assert.Len(t, sel.IDs, 2)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/selection/toggle", "").Code)

	resp := decode[eventsResponse](t, f.do(t, http.MethodGet, "/api/events", ""))
	selected := 0
	for _, occ := range resp.Days[0].Occurrences {
		if occ.Selected {
			selected++
		}
	}
	assert.Equal(t, 2, selected)

	rec := f.do(t, http.MethodPost, "/api/selection/delete", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	commit := decode[commitResponse](t, rec)
	assert.ElementsMatch(t, ids[:2], commit.Succeeded)
	assert.Empty(t, commit.Failed)
	assert.Equal(t, 1, commit.Chunks)
	f.waitTotal(t, 1)

	sel = decode[selectionResponse](t, f.do(t, http.MethodGet, "/api/selection", ""))
	assert.Empty(t, sel.IDs)

	f.do(t, http.MethodPost, "/api/selection", `{"ids":["x"]}`)
	sel = decode[selectionResponse](t, f.do(t, http.MethodDelete, "/api/selection", ""))
	assert.Empty(t, sel.IDs)
}

const sampleICS = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:u1\r\nSUMMARY:Imported\r\nDTSTART:20250110T090000Z\r\nDTEND:20250110T100000Z\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:u2\r\nSUMMARY:Old\r\nDTSTART:20240110T090000Z\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestImportExportBackupRestore(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/events", `{"title":"Mine","start":"2025-01-07T09:00:00Z"}`).Code)

	rec := f.do(t, http.MethodPost, "/api/import", sampleICS)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decode[ics.Report](t, rec)
	assert.Equal(t, 1, rep.Inserted)
	assert.Equal(t, 1, rep.Skipped)
	f.waitTotal(t, 2)

	rec = f.do(t, http.MethodGet, "/api/export.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Body.String(), "SUMMARY:Imported")
	assert.Contains(t, rec.Body.String(), "SUMMARY:Mine")

	rec = f.do(t, http.MethodGet, "/api/backup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "appdate-backup-2025-01-06.json")
	backup := rec.Body.String()
	assert.Contains(t, backup, "Mine")
	assert.NotContains(t, backup, "Imported")

	rec = f.do(t, http.MethodPost, "/api/restore", backup)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[ics.Report](t, rec).Inserted)

	manual, err := f.store.List(context.Background(), model.CollectionManual)
	require.NoError(t, err)
	assert.Len(t, manual, 3)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/restore", `{"title":"x"}`).Code)
}

func TestImportFromURLWithoutFetcher(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/import?url=http://example.invalid/cal.ics", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func ingestBody(t *testing.T, subject, body string) string {
	t.Helper()
	b, err := json.Marshal(ingestRequest{Subject: subject, Body: body})
	require.NoError(t, err)
	return string(b)
}

func TestIngest(t *testing.T) {
	f := newFixture(t, nil)

	payload := `sekret "id": "ext-1", "title": "Call", "start": "2025-01-09T10:00:00", "end": "2025-01-09T11:00:00"`
	rec := f.do(t, http.MethodPost, "/api/ingest", ingestBody(t, "AppDate Call", payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[map[string]string](t, rec)
	assert.Equal(t, "upserted", out["outcome"])
	f.waitTotal(t, 1)

	view := f.session.View()
	assert.Equal(t, model.SourceSynced, view.Occurrences()[0].Source)

	rec = f.do(t, http.MethodPost, "/api/ingest", ingestBody(t, "", `"id": "ext-1", "action": "delete"`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/ingest", ingestBody(t, "", `sekret "id": "ext-1", "action": "delete"`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deleted", decode[map[string]string](t, rec)["outcome"])
	f.waitTotal(t, 0)

	metricsBody := f.do(t, http.MethodGet, "/metrics", "").Body.String()
	assert.Contains(t, metricsBody, `appdate_ingest_payloads_total{outcome="upserted"} 1`)
	assert.Contains(t, metricsBody, `appdate_ingest_payloads_total{outcome="rejected"} 1`)
}
