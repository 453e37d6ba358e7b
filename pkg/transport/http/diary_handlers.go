package http

import (
	"net/http"
	"time"

	"github.com/stridefit/stride/pkg/api"
	"github.com/stridefit/stride/pkg/auth"
	"github.com/stridefit/stride/pkg/auth/apikey"
	"github.com/stridefit/stride/pkg/storage"
	"github.com/stridefit/stride/pkg/transport"
)

const dateLayout = "2006-01-02"

// dateRange parses the from/to query parameters, defaulting to the
// trailing 30 days.
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return from, to, api.NewInvalidRequestError("from must be YYYY-MM-DD")
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return from, to, api.NewInvalidRequestError("to must be YYYY-MM-DD")
		}
		to = t
	}
	return from, to, nil
}

// handleListDiary handles GET /api/diary. Visibility is decided by the
// store from the effective principal in the context, so there is no
// owner filter here.
func (a *Adapter) handleListDiary(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		transport.WriteAPIError(w, err.(*api.APIError))
		return
	}
	entries, err := a.deps.Diary.ListDiaryEntries(r.Context(), from, to)
	if err != nil {
		a.logger.Error("listing diary entries", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type createDiaryRequest struct {
	EntryDate string `json:"entry_date"`
	Kind      string `json:"kind"`
	Note      string `json:"note"`
}

// handleCreateDiary handles POST /api/diary.
func (a *Adapter) handleCreateDiary(w http.ResponseWriter, r *http.Request) {
	var req createDiaryRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	entryDate, err := time.Parse(dateLayout, req.EntryDate)
	if err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("entry_date must be YYYY-MM-DD"))
		return
	}
	if req.Kind == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("kind is required"))
		return
	}

	e := &storage.DiaryEntry{
		EntryDate: entryDate,
		Kind:      req.Kind,
		Note:      req.Note,
	}
	if err := a.deps.Diary.CreateDiaryEntry(r.Context(), e); err != nil {
		a.logger.Error("creating diary entry", "error", err)
		writeStoreError(w, err, "diary entry not found")
		return
	}
	transport.WriteJSON(w, http.StatusCreated, e)
}

// handleListCheckins handles GET /api/checkins.
func (a *Adapter) handleListCheckins(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		transport.WriteAPIError(w, err.(*api.APIError))
		return
	}
	checkins, err := a.deps.Diary.ListCheckins(r.Context(), from, to)
	if err != nil {
		a.logger.Error("listing checkins", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{"checkins": checkins})
}

type createCheckinRequest struct {
	CheckinDate string  `json:"checkin_date"`
	WeightKG    float64 `json:"weight_kg"`
}

// handleCreateCheckin handles POST /api/checkins.
func (a *Adapter) handleCreateCheckin(w http.ResponseWriter, r *http.Request) {
	var req createCheckinRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	checkinDate, err := time.Parse(dateLayout, req.CheckinDate)
	if err != nil {
		transport.WriteAPIError(w, api.NewInvalidRequestError("checkin_date must be YYYY-MM-DD"))
		return
	}
	if req.WeightKG <= 0 {
		transport.WriteAPIError(w, api.NewInvalidRequestError("weight_kg must be positive"))
		return
	}

	c := &storage.Checkin{
		CheckinDate: checkinDate,
		WeightKG:    req.WeightKG,
	}
	if err := a.deps.Diary.CreateCheckin(r.Context(), c); err != nil {
		a.logger.Error("creating checkin", "error", err)
		writeStoreError(w, err, "checkin not found")
		return
	}
	transport.WriteJSON(w, http.StatusCreated, c)
}

// handleReportSummary handles GET /api/reports/summary: an aggregate
// over the effective principal's diary entries and check-ins for the
// requested range.
func (a *Adapter) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		transport.WriteAPIError(w, err.(*api.APIError))
		return
	}
	entries, err := a.deps.Diary.ListDiaryEntries(r.Context(), from, to)
	if err != nil {
		a.logger.Error("summarizing diary entries", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}
	checkins, err := a.deps.Diary.ListCheckins(r.Context(), from, to)
	if err != nil {
		a.logger.Error("summarizing checkins", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}

	var latestWeight float64
	var latestAt time.Time
	for _, c := range checkins {
		if c.CheckinDate.After(latestAt) {
			latestAt = c.CheckinDate
			latestWeight = c.WeightKG
		}
	}

	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"from":             from.Format(dateLayout),
		"to":               to.Format(dateLayout),
		"diary_entries":    len(entries),
		"checkins":         len(checkins),
		"latest_weight_kg": latestWeight,
	})
}

type healthDataRequest struct {
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
	RecordedAt string  `json:"recorded_at"`
}

// handleHealthData handles POST /api/health-data. The route is outside
// the gateway allowlist check, so the handler authenticates the API key
// itself and requires the health-data write permission; session cookies
// are never honored here.
func (a *Adapter) handleHealthData(w http.ResponseWriter, r *http.Request) {
	result := apikey.New(a.deps.APIKeys).Authenticate(r.Context(), r)
	if result.Decision != auth.Yes {
		transport.WriteAPIError(w, api.NewUnauthorizedError())
		return
	}
	if !result.Identity.HasPermission(api.APIKeyPermissionHealthWrite) {
		transport.WriteAPIError(w, api.NewForbiddenError("api key lacks health data permission"))
		return
	}

	var req healthDataRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	if req.Metric == "" {
		transport.WriteAPIError(w, api.NewInvalidRequestError("metric is required"))
		return
	}

	sample := &storage.HealthSample{
		Metric: req.Metric,
		Value:  req.Value,
	}
	if req.RecordedAt != "" {
		t, err := time.Parse(time.RFC3339, req.RecordedAt)
		if err != nil {
			transport.WriteAPIError(w, api.NewInvalidRequestError("recorded_at must be RFC 3339"))
			return
		}
		sample.RecordedAt = t
	}

	ctx := storage.SetTenant(r.Context(), result.Identity.Subject)
	if err := a.deps.Diary.SaveHealthSample(ctx, sample); err != nil {
		a.logger.Error("saving health sample", "error", err)
		transport.WriteAPIError(w, api.NewServerError("internal error"))
		return
	}
	transport.WriteJSON(w, http.StatusCreated, sample)
}
