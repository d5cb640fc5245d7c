package ingestapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sift/internal/pipeline"
	"github.com/linnemanlabs/sift/internal/signal"
)

// newsRequest is the wire form of a news signal.
type newsRequest struct {
	Source      string   `json:"source"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	URL         string   `json:"url"`
	Category    string   `json:"category"`
	Tickers     []string `json:"tickers"`
	Keywords    []string `json:"keywords"`
	PublishedAt string   `json:"publishedAt"`
}

// validate returns field-level problems and, when clean, the domain item.
func (req *newsRequest) validate() (signal.Item, []string) {
	var details []string
	if req.Source == "" {
		details = append(details, "source is required")
	}
	if req.Title == "" {
		details = append(details, "title is required")
	}
	if req.URL == "" {
		details = append(details, "url is required")
	}

	var publishedAt time.Time
	if req.PublishedAt == "" {
		details = append(details, "publishedAt is required")
	} else {
		ts, err := signal.ParseTimestamp(req.PublishedAt)
		if err != nil {
			details = append(details, "publishedAt must be RFC 3339")
		} else {
			publishedAt = ts
		}
	}

	if len(details) > 0 {
		return signal.Item{}, details
	}
	return signal.Item{
		Source:      req.Source,
		Title:       req.Title,
		Summary:     req.Summary,
		URL:         req.URL,
		Category:    req.Category,
		Tickers:     req.Tickers,
		Keywords:    req.Keywords,
		PublishedAt: publishedAt,
	}, nil
}

// handleIngestNews accepts either a single news object (201/409/400) or an
// array, which is processed as a batch and always answers 200.
func (a *API) handleIngestNews(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeInvalid(w, []string{"unreadable body"})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.ingest.namespace", "news"))

	if isArray(body) {
		a.ingestNewsBatch(w, r, body)
		return
	}

	var req newsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.writeInvalid(w, []string{"invalid JSON"})
		return
	}
	raw, details := req.validate()
	if details != nil {
		a.writeInvalid(w, details)
		return
	}

	it, err := a.svc.ProcessNews(r.Context(), raw)
	if err != nil {
		var dup *pipeline.DuplicateError
		if errors.As(err, &dup) {
			a.writeDuplicate(w, dup.Fingerprint)
			return
		}
		a.writeInternal(r.Context(), w, err, "failed to process news signal")
		return
	}

	span.SetAttributes(
		attribute.String("sift.signal.id", it.ID),
		attribute.String("sift.signal.severity", string(it.Severity)),
	)
	a.writeJSON(w, http.StatusCreated, summarize(it))
}

func (a *API) ingestNewsBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var reqs []newsRequest
	if err := json.Unmarshal(body, &reqs); err != nil {
		a.writeInvalid(w, []string{"invalid JSON"})
		return
	}

	items := make([]signal.Item, 0, len(reqs))
	origIdx := make([]int, 0, len(reqs))
	var invalid []pipeline.BatchError
	for i, req := range reqs {
		raw, details := req.validate()
		if details != nil {
			invalid = append(invalid, pipeline.BatchError{Index: i, Message: joinDetails(details)})
			continue
		}
		items = append(items, raw)
		origIdx = append(origIdx, i)
	}

	res := a.svc.RunNewsBatch(r.Context(), items)
	remapErrorIndices(res, origIdx)
	a.writeBatch(w, res, invalid)
}

// remapErrorIndices translates pipeline error indices (positions in the
// filtered slice) back to positions in the request array.
func remapErrorIndices(res *pipeline.BatchResult, origIdx []int) {
	for i := range res.Errors {
		if res.Errors[i].Index < len(origIdx) {
			res.Errors[i].Index = origIdx[res.Errors[i].Index]
		}
	}
}

// writeBatch merges validation failures with pipeline failures. Batch
// responses are always 200; per-item problems live in errors[].
func (a *API) writeBatch(w http.ResponseWriter, res *pipeline.BatchResult, invalid []pipeline.BatchError) {
	signals := make([]signalSummary, 0, len(res.Items))
	for _, it := range res.Items {
		signals = append(signals, summarize(it))
	}
	errs := append(invalid, res.Errors...)
	if errs == nil {
		errs = []pipeline.BatchError{}
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"processed": len(signals),
		"signals":   signals,
		"errors":    errs,
		"counts":    res.Counts,
	})
}

func isArray(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func joinDetails(details []string) string {
	out := details[0]
	for _, d := range details[1:] {
		out += "; " + d
	}
	return out
}
