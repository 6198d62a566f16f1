package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTStore reads the same tables through a Supabase PostgREST endpoint
// using the service-role key. Not-found lookups return sql.ErrNoRows so
// callers treat both backends alike.
type RESTStore struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

func NewRESTStore(supabaseURL, serviceKey string, client *http.Client) (*RESTStore, error) {
	supabaseURL = strings.TrimRight(strings.TrimSpace(supabaseURL), "/")
	if supabaseURL == "" {
		return nil, errors.New("supabase url is required")
	}
	if strings.TrimSpace(serviceKey) == "" {
		return nil, errors.New("supabase service role key is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTStore{
		baseURL:    supabaseURL + "/rest/v1",
		serviceKey: serviceKey,
		client:     client,
	}, nil
}

type objectiveRow struct {
	ID                   string          `json:"id"`
	ProjectID            string          `json:"project_id"`
	Name                 string          `json:"name"`
	CurrentStep          *int            `json:"current_step"`
	JourneyStatus        *string         `json:"journey_status"`
	BrainstormData       json.RawMessage `json:"brainstorm_data"`
	ChooseData           json.RawMessage `json:"choose_data"`
	ObjectivesData       json.RawMessage `json:"objectives_data"`
	TargetCompletionDate *string         `json:"target_completion_date"`
	ActualCompletionDate *string         `json:"actual_completion_date"`
	IsArchived           bool            `json:"is_archived"`
	CreatedAt            *string         `json:"created_at"`
	UpdatedAt            *string         `json:"updated_at"`
}

func (r objectiveRow) toObjective() (Objective, error) {
	item := Objective{
		ID:             r.ID,
		ProjectID:      r.ProjectID,
		Name:           r.Name,
		BrainstormData: nullableJSON(r.BrainstormData),
		ChooseData:     nullableJSON(r.ChooseData),
		ObjectivesData: nullableJSON(r.ObjectivesData),
		IsArchived:     r.IsArchived,
	}
	if r.CurrentStep != nil {
		item.CurrentStep = *r.CurrentStep
	}
	if r.JourneyStatus != nil {
		item.JourneyStatus = *r.JourneyStatus
	}
	var err error
	if item.TargetCompletionDate, err = parseTimestamp(r.TargetCompletionDate); err != nil {
		return Objective{}, fmt.Errorf("target_completion_date: %w", err)
	}
	if item.ActualCompletionDate, err = parseTimestamp(r.ActualCompletionDate); err != nil {
		return Objective{}, fmt.Errorf("actual_completion_date: %w", err)
	}
	created, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return Objective{}, fmt.Errorf("created_at: %w", err)
	}
	if created != nil {
		item.CreatedAt = *created
	}
	updated, err := parseTimestamp(r.UpdatedAt)
	if err != nil {
		return Objective{}, fmt.Errorf("updated_at: %w", err)
	}
	if updated != nil {
		item.UpdatedAt = *updated
	}
	return item, nil
}

func (s *RESTStore) Ping(ctx context.Context) error {
	var rows []struct {
		ID string `json:"id"`
	}
	return s.do(ctx, http.MethodGet, "objectives", url.Values{"select": {"id"}, "limit": {"1"}}, nil, &rows)
}

func (s *RESTStore) GetObjective(ctx context.Context, objectiveID string) (Objective, error) {
	var rows []objectiveRow
	query := url.Values{
		"select": {objectiveColumnsREST},
		"id":     {"eq." + objectiveID},
		"limit":  {"1"},
	}
	if err := s.do(ctx, http.MethodGet, "objectives", query, nil, &rows); err != nil {
		return Objective{}, fmt.Errorf("get objective: %w", err)
	}
	if len(rows) == 0 {
		return Objective{}, sql.ErrNoRows
	}
	return rows[0].toObjective()
}

func (s *RESTStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var rows []struct {
		ID         string `json:"id"`
		TeamID     string `json:"team_id"`
		Name       string `json:"name"`
		IsArchived bool   `json:"is_archived"`
	}
	query := url.Values{
		"select": {"id,team_id,name,is_archived"},
		"id":     {"eq." + projectID},
		"limit":  {"1"},
	}
	if err := s.do(ctx, http.MethodGet, "projects", query, nil, &rows); err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	if len(rows) == 0 {
		return Project{}, sql.ErrNoRows
	}
	row := rows[0]
	return Project{ID: row.ID, TeamID: row.TeamID, Name: row.Name, IsArchived: row.IsArchived}, nil
}

func (s *RESTStore) FindMembership(ctx context.Context, userID, teamID string) (TeamMember, error) {
	var rows []struct {
		ID     string `json:"id"`
		TeamID string `json:"team_id"`
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	query := url.Values{
		"select":  {"id,team_id,user_id,role"},
		"user_id": {"eq." + userID},
		"team_id": {"eq." + teamID},
		"limit":   {"1"},
	}
	if err := s.do(ctx, http.MethodGet, "team_members", query, nil, &rows); err != nil {
		return TeamMember{}, fmt.Errorf("find membership: %w", err)
	}
	if len(rows) == 0 {
		return TeamMember{}, sql.ErrNoRows
	}
	row := rows[0]
	return TeamMember{ID: row.ID, TeamID: row.TeamID, UserID: row.UserID, Role: row.Role}, nil
}

func (s *RESTStore) ListObjectives(ctx context.Context, projectID string, filter ObjectiveFilter) ([]Objective, error) {
	query := url.Values{
		"select":     {objectiveColumnsREST},
		"project_id": {"eq." + projectID},
		"order":      {"created_at.asc"},
	}
	if !filter.IncludeArchived {
		query.Set("is_archived", "eq.false")
	}
	if filter.JourneyStatus != "" && filter.JourneyStatus != "all" {
		query.Set("journey_status", "eq."+filter.JourneyStatus)
	}
	var rows []objectiveRow
	if err := s.do(ctx, http.MethodGet, "objectives", query, nil, &rows); err != nil {
		return nil, fmt.Errorf("list objectives: %w", err)
	}
	items := make([]Objective, 0, len(rows))
	for _, row := range rows {
		item, err := row.toObjective()
		if err != nil {
			return nil, fmt.Errorf("decode objective %s: %w", row.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *RESTStore) UpdateObjective(ctx context.Context, objectiveID string, patch ObjectivePatch) (Objective, error) {
	body := map[string]any{"updated_at": time.Now().UTC().Format(time.RFC3339Nano)}
	if patch.Name != nil {
		body["name"] = *patch.Name
	}
	if patch.CurrentStep != nil {
		body["current_step"] = *patch.CurrentStep
	}
	if patch.JourneyStatus != nil {
		body["journey_status"] = *patch.JourneyStatus
	}
	if patch.BrainstormData != nil {
		body["brainstorm_data"] = patch.BrainstormData
	}
	if patch.ChooseData != nil {
		body["choose_data"] = patch.ChooseData
	}
	if patch.ObjectivesData != nil {
		body["objectives_data"] = patch.ObjectivesData
	}
	switch {
	case patch.ClearTargetCompletionDate:
		body["target_completion_date"] = nil
	case patch.TargetCompletionDate != nil:
		body["target_completion_date"] = patch.TargetCompletionDate.UTC().Format(time.RFC3339Nano)
	}
	if patch.IsArchived != nil {
		body["is_archived"] = *patch.IsArchived
	}

	query := url.Values{
		"select": {objectiveColumnsREST},
		"id":     {"eq." + objectiveID},
	}
	var rows []objectiveRow
	if err := s.do(ctx, http.MethodPatch, "objectives", query, body, &rows); err != nil {
		return Objective{}, fmt.Errorf("update objective: %w", err)
	}
	if len(rows) == 0 {
		return Objective{}, sql.ErrNoRows
	}
	return rows[0].toObjective()
}

// CreateObjective inserts an unarchived objective and returns the stored row.
func (s *RESTStore) CreateObjective(ctx context.Context, in NewObjective) (Objective, error) {
	body := map[string]any{
		"project_id":             in.ProjectID,
		"name":                   in.Name,
		"current_step":           in.CurrentStep,
		"journey_status":         in.JourneyStatus,
		"target_completion_date": nil,
		"is_archived":            false,
	}
	if in.TargetCompletionDate != nil {
		body["target_completion_date"] = in.TargetCompletionDate.UTC().Format(time.RFC3339Nano)
	}
	var rows []objectiveRow
	query := url.Values{"select": {objectiveColumnsREST}}
	if err := s.do(ctx, http.MethodPost, "objectives", query, body, &rows); err != nil {
		return Objective{}, fmt.Errorf("create objective: %w", err)
	}
	if len(rows) == 0 {
		return Objective{}, errors.New("create objective: empty representation")
	}
	return rows[0].toObjective()
}

const objectiveColumnsREST = "id,project_id,name,current_step,journey_status,brainstorm_data,choose_data,objectives_data,target_completion_date,actual_completion_date,is_archived,created_at,updated_at"

// UpstreamError is returned for non-2xx PostgREST responses. Code carries
// the Postgres SQLSTATE when the body reports one.
type UpstreamError struct {
	Method string
	Table  string
	Status int
	Code   string
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("supabase %s %s: status %d: %s", e.Method, e.Table, e.Status, e.Body)
}

// Is matches sql.ErrNoRows for a malformed id, which no row can carry.
func (e *UpstreamError) Is(target error) bool {
	return target == sql.ErrNoRows && e.Code == invalidTextRepresentation
}

func (s *RESTStore) do(ctx context.Context, method, table string, query url.Values, body any, out any) error {
	endpoint := s.baseURL + "/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		var detail struct {
			Code string `json:"code"`
		}
		_ = json.Unmarshal(snippet, &detail)
		return &UpstreamError{
			Method: method,
			Table:  table,
			Status: resp.StatusCode,
			Code:   detail.Code,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", table, err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return raw
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02",
}

func parseTimestamp(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, *raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised timestamp %q", *raw)
}
