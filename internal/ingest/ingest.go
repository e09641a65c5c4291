// Package ingest turns the free-text notifications of the synchronisation
// source into upserts and deletes on the synced collection.
package ingest

import (
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	appLog "appdate/internal/log"
	"appdate/internal/model"
)

const (
	// SubjectMarker tags notification subjects; it is stripped when the
	// subject stands in for a missing title.
	SubjectMarker = "AppDate"
	// UntitledTitle is used when neither the payload nor the subject has a
	// title.
	UntitledTitle = "Unbenannter Termin"
)

var (
	ErrNoSecret = errors.New("payload does not carry the shared secret")
	ErrNoID     = errors.New("payload has no id")
)

var whitespace = regexp.MustCompile(`[\r\n\t]`)

// fields maps payload keys to their extractors. Keys are matched without
// regard to case so "Action" and "action" both work.
var fields = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, key := range []string{"id", "title", "start", "end", "location", "description", "action"} {
		out[key] = regexp.MustCompile(`(?i)"` + key + `"\s*:\s*"(.*?)"`)
	}
	return out
}()

// Payload is one parsed notification.
type Payload struct {
	ID          string
	Title       string
	Start       string
	End         string
	Location    string
	Description string
	Action      string
}

// Parse extracts the tagged values from body. An empty secret, or a body
// that does not contain it, yields ErrNoSecret and the payload must be
// ignored. A missing id is replaced by a hash of start and title, a missing
// title by the subject without its marker.
func Parse(body, subject, secret string) (Payload, error) {
	body = whitespace.ReplaceAllString(body, " ")
	if secret == "" || !strings.Contains(body, secret) {
		return Payload{}, ErrNoSecret
	}

	p := Payload{
		ID:          extract(body, "id"),
		Title:       extract(body, "title"),
		Start:       extract(body, "start"),
		End:         extract(body, "end"),
		Location:    extract(body, "location"),
		Description: extract(body, "description"),
		Action:      extract(body, "action"),
	}

	if p.ID == "" {
		sum := md5.Sum([]byte(p.Start + p.Title))
		p.ID = base64.StdEncoding.EncodeToString(sum[:])
		appLog.Debug("ingest: payload without id, derived one", "id", p.ID)
	}
	if p.Title == "" {
		p.Title = strings.TrimSpace(strings.Replace(subject, SubjectMarker, "", 1))
		if p.Title == "" {
			p.Title = UntitledTitle
		}
	}
	return p, nil
}

func extract(body, key string) string {
	m := fields[key].FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsDelete reports whether the payload removes its record: the action
// mentions "delete" or the payload has no start.
func (p Payload) IsDelete() bool {
	return strings.Contains(strings.ToLower(p.Action), "delete") || strings.TrimSpace(p.Start) == ""
}

// DocID returns the record id for the payload.
func (p Payload) DocID() string {
	return DocID(p.ID)
}

// DocID encodes an external identifier as an unpadded URL-safe base64
// string, so ids that differ only in characters unsafe for keys cannot
// collide.
func DocID(externalID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(externalID))
}

// Event converts the payload into a synced record. Times without zone are
// taken as UTC, since the source always reports UTC without marking it.
func (p Payload) Event() (model.Event, error) {
	if p.ID == "" {
		return model.Event{}, ErrNoID
	}
	start, err := model.ParseTimestamp(p.Start, time.UTC)
	if err != nil {
		return model.Event{}, fmt.Errorf("start: %w", err)
	}
	end, err := model.ParseTimestamp(p.End, time.UTC)
	if err != nil {
		return model.Event{}, fmt.Errorf("end: %w", err)
	}
	return model.Event{
		ID:          p.DocID(),
		ExternalID:  p.ID,
		Title:       p.Title,
		Start:       utc(start),
		End:         utc(end),
		Location:    p.Location,
		Description: p.Description,
		Source:      model.SourceSynced,
	}, nil
}

func utc(t model.Timestamp) model.Timestamp {
	if t.IsZero() {
		return t
	}
	return model.At(t.UTC())
}
