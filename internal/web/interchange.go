package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"appdate/internal/ics"
	"appdate/internal/ingest"
	appLog "appdate/internal/log"
	"appdate/internal/model"
)

// handleImport imports an ICS document from the request body, or from the
// feed named by url.
//
// POST /api/import?reset=1&since=YYYY-MM-DD&url=
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := ics.ImportOptions{
		Reset: parseBool(q.Get("reset")),
		Since: q.Get("since"),
	}

	var body io.Reader = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if feedURL := q.Get("url"); feedURL != "" {
		if s.deps.Fetcher == nil {
			writeError(w, http.StatusNotImplemented, "feed fetching is disabled")
			return
		}
		feed, err := s.deps.Fetcher.Fetch(r.Context(), feedURL)
		if err != nil {
			appLog.Error("feed fetch failed", err)
			writeError(w, http.StatusBadGateway, "failed to fetch feed")
			return
		}
		body = bytes.NewReader(feed.Body)
	}

	rep, err := s.deps.Importer.Import(r.Context(), body, opts)
	s.deps.Metrics.AddImported("ics", rep.Inserted, rep.Dropped, rep.Skipped)
	if err != nil {
		appLog.Error("ics import failed", err)
		writeJSON(w, http.StatusInternalServerError, struct {
			ics.Report
			Error string `json:"error"`
		}{rep, err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleExport serves every stored event as one ICS calendar.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	events, err := s.allEvents(r)
	if err != nil {
		s.writeStoreError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="appdate.ics"`)
	if err := ics.ExportICS(w, events, s.deps.Location, s.deps.Now()); err != nil {
		appLog.Error("ics export failed", err)
	}
}

// handleBackup serves the manual events as a JSON backup file.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.List(r.Context(), model.CollectionManual)
	if err != nil {
		s.writeStoreError(w, "backup", err)
		return
	}
	name := fmt.Sprintf("appdate-backup-%s.json", model.DateOf(s.deps.Now().In(s.deps.Location)))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := ics.WriteBackup(w, events); err != nil {
		appLog.Error("backup export failed", err)
	}
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Importer.Restore(r.Context(), http.MaxBytesReader(w, r.Body, maxBodyBytes))
	s.deps.Metrics.AddImported("backup", rep.Inserted, rep.Dropped, rep.Skipped)
	if err != nil {
		if errors.Is(err, ics.ErrNotArray) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		appLog.Error("backup restore failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type ingestRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// handleIngest applies one mailed sync payload to the synced collection.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p, err := ingest.Parse(req.Body, req.Subject, s.cfg.IngestSecret)
	if err != nil {
		s.deps.Metrics.IncIngest("rejected")
		if errors.Is(err, ingest.ErrNoSecret) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := ingest.Apply(r.Context(), s.deps.Store, p)
	if err != nil {
		s.deps.Metrics.IncIngest("failed")
		s.writeStoreError(w, "ingest", err)
		return
	}
	s.deps.Metrics.IncIngest(string(outcome))
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome), "id": p.DocID()})
}

func (s *Server) allEvents(r *http.Request) ([]model.Event, error) {
	var out []model.Event
	for _, c := range model.Collections {
		events, err := s.deps.Store.List(r.Context(), c)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
