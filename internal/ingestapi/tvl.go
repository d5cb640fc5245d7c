package ingestapi

import (
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

// tvlRequest is the wire form of a TVL observation. Collectors disagree on
// field names, so both {value, ts} and {tvl, timestamp} are accepted.
type tvlRequest struct {
	Chain     string   `json:"chain"`
	Protocol  string   `json:"protocol"`
	Metric    string   `json:"metric"`
	Value     *float64 `json:"value"`
	TVL       *float64 `json:"tvl"`
	TS        string   `json:"ts"`
	Timestamp string   `json:"timestamp"`
	Change24h *float64 `json:"change24h"`
}

func (req *tvlRequest) validate() (signal.TVLPoint, []string) {
	var details []string
	if req.Chain == "" {
		details = append(details, "chain is required")
	}
	if req.Protocol == "" {
		details = append(details, "protocol is required")
	}

	value := req.Value
	if value == nil {
		value = req.TVL
	}
	if value == nil {
		details = append(details, "value (or tvl) is required")
	}

	rawTS := req.TS
	if rawTS == "" {
		rawTS = req.Timestamp
	}
	var ts time.Time
	if rawTS == "" {
		details = append(details, "ts (or timestamp) is required")
	} else {
		parsed, err := signal.ParseTimestamp(rawTS)
		if err != nil {
			details = append(details, "ts must be RFC 3339")
		} else {
			ts = parsed
		}
	}

	if len(details) > 0 {
		return signal.TVLPoint{}, details
	}

	metric := req.Metric
	if metric == "" {
		metric = "tvl"
	}
	return signal.TVLPoint{
		Chain:     req.Chain,
		Protocol:  req.Protocol,
		Metric:    metric,
		Value:     *value,
		TS:        ts,
		Change24h: req.Change24h,
	}, nil
}

func (a *API) handleIngestTVL(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.writeInvalid(w, []string{"unreadable body"})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sift.ingest.namespace", "tvl"))

	if isArray(body) {
		a.ingestTVLBatch(w, r, body)
		return
	}

	var req tvlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.writeInvalid(w, []string{"invalid JSON"})
		return
	}
	p, details := req.validate()
	if details != nil {
		a.writeInvalid(w, details)
		return
	}

	it, err := a.svc.ProcessTVL(r.Context(), p)
	if err != nil {
		var dup *pipeline.DuplicateError
		if errors.As(err, &dup) {
			a.writeDuplicate(w, dup.Fingerprint)
			return
		}
		a.writeInternal(r.Context(), w, err, "failed to process tvl signal")
		return
	}

	span.SetAttributes(
		attribute.String("sift.signal.id", it.ID),
		attribute.String("sift.signal.severity", string(it.Severity)),
	)
	a.writeJSON(w, http.StatusCreated, summarize(it))
}

func (a *API) ingestTVLBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var reqs []tvlRequest
	if err := json.Unmarshal(body, &reqs); err != nil {
		a.writeInvalid(w, []string{"invalid JSON"})
		return
	}

	points := make([]signal.TVLPoint, 0, len(reqs))
	origIdx := make([]int, 0, len(reqs))
	var invalid []pipeline.BatchError
	for i, req := range reqs {
		p, details := req.validate()
		if details != nil {
			invalid = append(invalid, pipeline.BatchError{Index: i, Message: joinDetails(details)})
			continue
		}
		points = append(points, p)
		origIdx = append(origIdx, i)
	}

	res := a.svc.RunTVLBatch(r.Context(), points)
	remapErrorIndices(res, origIdx)
	a.writeBatch(w, res, invalid)
}
