package web

import (
	"errors"
	"net/http"
	"strings"

	"appdate/internal/filter"
	appLog "appdate/internal/log"
	"appdate/internal/model"
	"appdate/internal/session"
	"appdate/internal/store"
)

// occurrenceDTO is a JSON-friendly view of an occurrence.
type occurrenceDTO struct {
	EventID     string          `json:"event_id"`
	Source      model.Source    `json:"source"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	AllDay      bool            `json:"all_day"`
	Recurrence  string          `json:"recurrence"`
	Generated   bool            `json:"generated"`
	Date        string          `json:"date"`
	Start       model.Timestamp `json:"start"`
	End         model.Timestamp `json:"end"`
	Selected    bool            `json:"selected,omitempty"`
}

type dayDTO struct {
	Date        string          `json:"date"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Days      []dayDTO     `json:"days"`
	Total     int          `json:"total"`
	Range     filter.Range `json:"range"`
	Nearest   string       `json:"nearest,omitempty"`
	Timezone  string       `json:"timezone"`
	WeekStart string       `json:"week_start"`
}

func (s *Server) viewResponse(v filter.View, jump string) eventsResponse {
	sel := s.deps.Session.Selection()
	resp := eventsResponse{
		Days:      make([]dayDTO, 0, len(v.Days)),
		Total:     v.Total,
		Range:     v.Range,
		Timezone:  s.deps.Location.String(),
		WeekStart: s.cfg.WeekStart,
	}
	for _, d := range v.Days {
		day := dayDTO{Date: d.Date, Occurrences: make([]occurrenceDTO, 0, len(d.Occurrences))}
		for _, occ := range d.Occurrences {
			day.Occurrences = append(day.Occurrences, occurrenceDTO{
				EventID:     occ.EventID,
				Source:      occ.Source,
				Title:       occ.DisplayTitle(),
				Description: occ.Description,
				Location:    occ.Location,
				AllDay:      occ.AllDay,
				Recurrence:  occ.Recurrence.String(),
				Generated:   occ.Generated,
				Date:        d.Date,
				Start:       model.At(occ.Start),
				End:         model.At(occ.End),
				Selected:    sel.Has(occ.EventID),
			})
		}
		resp.Days = append(resp.Days, day)
	}
	if jump != "" {
		if d, ok := v.Nearest(jump); ok {
			resp.Nearest = d.Date
		}
	}
	return resp
}

// handleEvents returns the filtered, grouped occurrences.
//
// GET /api/events?category=&q=&range=&from=&to=&date=
//   - category: all (default), synced or manual
//   - q:        case-insensitive search in title, description and location
//   - range:    week, month, year or custom (with from/to); empty lists
//     everything from yesterday on
//   - date:     reports the first day on or after it as "nearest"
//
// Without any query parameter the active session filter is used.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if len(q) == 0 {
		writeJSON(w, http.StatusOK, s.viewResponse(s.deps.Session.View(), ""))
		return
	}

	f, err := s.filterFromQuery(q.Get("category"), q.Get("q"), q.Get("range"), q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.viewResponse(s.deps.Session.Query(f), q.Get("date")))
}

func (s *Server) filterFromQuery(category, search, kind, from, to string) (session.Filter, error) {
	f := session.Filter{
		Category: filter.ParseCategory(category),
		Search:   search,
	}
	if kind == "" && from == "" && to == "" {
		return f, nil
	}
	rk := filter.RangeCustom
	if kind != "" {
		var err error
		if rk, err = filter.ParseRangeKind(kind); err != nil {
			return f, err
		}
	}
	rng, err := s.deps.Session.ResolveRange(rk, from, to)
	if err != nil {
		return f, err
	}
	f.Range = &rng
	return f, nil
}

type filterRequest struct {
	Category string `json:"category"`
	Search   string `json:"search"`
	Range    string `json:"range"`
	From     string `json:"from"`
	To       string `json:"to"`
}

func (s *Server) handleGetFilter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Session.Filter())
}

// handlePutFilter replaces the active filter and returns the new view.
func (s *Server) handlePutFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	f, err := s.filterFromQuery(req.Category, req.Search, req.Range, req.From, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.viewResponse(s.deps.Session.SetFilter(f), ""))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := decodeJSON(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	ev.ID = ""
	saved, err := s.deps.Session.Save(r.Context(), ev)
	if err != nil {
		s.writeStoreError(w, "create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := decodeJSON(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	ev.ID = r.PathValue("id")
	saved, err := s.deps.Session.Save(r.Context(), ev)
	if err != nil {
		s.writeStoreError(w, "update event", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteSeries(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Session.DeleteSeries(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, "delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteInstance removes one date from a series.
//
// POST /api/events/{id}/exclude?date=YYYY-MM-DD
func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	ev, err := s.deps.Session.DeleteInstance(r.Context(), r.PathValue("id"), date)
	if err != nil {
		s.writeStoreError(w, "exclude date", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// writeStoreError maps domain errors to status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrExists), errors.Is(err, session.ErrNotRecurring):
		status = http.StatusConflict
	case errors.Is(err, model.ErrMissingTitle), errors.Is(err, model.ErrMissingStart),
		errors.Is(err, session.ErrInvalidDate):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrBatchTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		appLog.Error(op+" failed", err)
	}
	writeError(w, status, err.Error())
}
