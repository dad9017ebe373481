package services

import (
	"context"
	"sort"

	"github.com/soaringjerry/opine/internal/db"
	"github.com/soaringjerry/opine/internal/models"
)

// ReportService is the reporting read model over QC outcomes. Reads page
// through the store and tolerate concurrent writes.
type ReportService struct {
	store ResponseStore
}

type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

type DailyCount struct {
	Date     string `json:"date"`
	Count    int    `json:"count"`
	Rejected int    `json:"rejected"`
}

type QCSummary struct {
	SurveyID           string                `json:"survey_id"`
	CompanyID          string                `json:"company_id,omitempty"`
	TotalResponses     int                   `json:"total_responses"`
	ByStatus           map[models.Status]int `json:"by_status"`
	AutoRejected       int                   `json:"auto_rejected"`
	ManuallyRejected   int                   `json:"manually_rejected"`
	Duplicates         int                   `json:"duplicates"`
	Reasons            []ReasonCount         `json:"reasons"`
	Timeseries         []DailyCount          `json:"timeseries"`
	AvgDurationSeconds float64               `json:"avg_duration_seconds"`
}

func NewReportService(store ResponseStore) *ReportService {
	return &ReportService{store: store}
}

// Summary aggregates one survey, optionally scoped to a company.
func (s *ReportService) Summary(ctx context.Context, companyID, surveyID string) (*QCSummary, error) {
	if surveyID == "" {
		return nil, NewInvalidError("surveyId is required")
	}
	sum := &QCSummary{SurveyID: surveyID, CompanyID: companyID, ByStatus: map[models.Status]int{}}
	reasons := map[string]int{}
	days := map[string]*DailyCount{}
	var durationTotal, durationN int
	err := scanAll(ctx, s.store, db.ScanFilter{SurveyID: surveyID, CompanyID: companyID}, defaultPageSize, func(page []*models.Response) error {
		for _, r := range page {
			sum.TotalResponses++
			sum.ByStatus[r.Status]++
			vd := r.VerificationData
			if r.Status == models.StatusRejected {
				if vd.AutoRejected && vd.Reviewer == "" {
					sum.AutoRejected++
				} else {
					sum.ManuallyRejected++
				}
			}
			if r.DuplicateOf != "" {
				sum.Duplicates++
			}
			for _, reason := range vd.AutoRejectionReasons {
				reasons[reason]++
			}
			day := r.CreatedAt.UTC().Format("2006-01-02")
			d, ok := days[day]
			if !ok {
				d = &DailyCount{Date: day}
				days[day] = d
			}
			d.Count++
			if r.Status == models.StatusRejected {
				d.Rejected++
			}
			if r.Status != models.StatusAbandoned && r.TotalTimeSpent > 0 {
				durationTotal += r.TotalTimeSpent
				durationN++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sum.Reasons = buildReasonCounts(reasons)
	sum.Timeseries = buildTimeseries(days)
	if durationN > 0 {
		sum.AvgDurationSeconds = float64(durationTotal) / float64(durationN)
	}
	return sum, nil
}

func buildReasonCounts(counts map[string]int) []ReasonCount {
	out := make([]ReasonCount, 0, len(counts))
	for r, n := range counts {
		out = append(out, ReasonCount{Reason: r, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

func buildTimeseries(days map[string]*DailyCount) []DailyCount {
	keys := make([]string, 0, len(days))
	for d := range days {
		keys = append(keys, d)
	}
	sort.Strings(keys)
	out := make([]DailyCount, 0, len(keys))
	for _, k := range keys {
		out = append(out, *days[k])
	}
	return out
}
