package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arrowhead/api/internal/auth"
	"arrowhead/api/internal/clock"
	"arrowhead/api/internal/cors"
	"arrowhead/api/internal/lock"
	"arrowhead/api/internal/store"
)

var (
	testSecret = []byte("test-jwt-secret")
	testEpoch  = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
)

type fakeDirectory struct {
	objectives map[string]store.Objective
	projects   map[string]store.Project
	members    map[string]store.TeamMember // keyed by userID + "/" + teamID
	updates    []store.ObjectivePatch
	created    []store.NewObjective

	getObjectiveFn    func(context.Context, string) (store.Objective, error)
	listObjectivesFn  func(context.Context, string, store.ObjectiveFilter) ([]store.Objective, error)
	updateObjectiveFn func(context.Context, string, store.ObjectivePatch) (store.Objective, error)
	createObjectiveFn func(context.Context, store.NewObjective) (store.Objective, error)
	pingFn            func(context.Context) error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		objectives: map[string]store.Objective{
			"obj-1": {
				ID:             "obj-1",
				ProjectID:      "proj-1",
				Name:           "Launch plan",
				CurrentStep:    4,
				JourneyStatus:  "draft",
				BrainstormData: json.RawMessage(`{"step1":"imitate"}`),
				CreatedAt:      testEpoch,
				UpdatedAt:      testEpoch,
			},
			"obj-orphan": {ID: "obj-orphan", ProjectID: "proj-missing", Name: "Orphan"},
		},
		projects: map[string]store.Project{
			"proj-1": {ID: "proj-1", TeamID: "team-1", Name: "Alpha"},
		},
		members: map[string]store.TeamMember{
			"user-a/team-1": {ID: "tm-a", TeamID: "team-1", UserID: "user-a", Role: store.RoleProjectOwner},
			"user-b/team-1": {ID: "tm-b", TeamID: "team-1", UserID: "user-b", Role: store.RoleAccountManager},
			"user-m/team-1": {ID: "tm-m", TeamID: "team-1", UserID: "user-m", Role: store.RoleTeamMember},
			"user-x/team-2": {ID: "tm-x", TeamID: "team-2", UserID: "user-x", Role: store.RoleAccountOwner},
		},
	}
}

func (f *fakeDirectory) GetObjective(ctx context.Context, objectiveID string) (store.Objective, error) {
	if f.getObjectiveFn != nil {
		return f.getObjectiveFn(ctx, objectiveID)
	}
	item, ok := f.objectives[objectiveID]
	if !ok {
		return store.Objective{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeDirectory) GetProject(_ context.Context, projectID string) (store.Project, error) {
	item, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeDirectory) FindMembership(_ context.Context, userID, teamID string) (store.TeamMember, error) {
	item, ok := f.members[userID+"/"+teamID]
	if !ok {
		return store.TeamMember{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeDirectory) ListObjectives(ctx context.Context, projectID string, filter store.ObjectiveFilter) ([]store.Objective, error) {
	if f.listObjectivesFn != nil {
		return f.listObjectivesFn(ctx, projectID, filter)
	}
	var items []store.Objective
	for _, id := range []string{"obj-1", "obj-2"} {
		if item, ok := f.objectives[id]; ok && item.ProjectID == projectID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeDirectory) UpdateObjective(ctx context.Context, objectiveID string, patch store.ObjectivePatch) (store.Objective, error) {
	f.updates = append(f.updates, patch)
	if f.updateObjectiveFn != nil {
		return f.updateObjectiveFn(ctx, objectiveID, patch)
	}
	item, ok := f.objectives[objectiveID]
	if !ok {
		return store.Objective{}, sql.ErrNoRows
	}
	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.CurrentStep != nil {
		item.CurrentStep = *patch.CurrentStep
	}
	if patch.ChooseData != nil {
		item.ChooseData = patch.ChooseData
	}
	if patch.TargetCompletionDate != nil {
		item.TargetCompletionDate = patch.TargetCompletionDate
	}
	f.objectives[objectiveID] = item
	return item, nil
}

func (f *fakeDirectory) CreateObjective(ctx context.Context, in store.NewObjective) (store.Objective, error) {
	f.created = append(f.created, in)
	if f.createObjectiveFn != nil {
		return f.createObjectiveFn(ctx, in)
	}
	item := store.Objective{
		ID:                   fmt.Sprintf("obj-new-%d", len(f.created)),
		ProjectID:            in.ProjectID,
		Name:                 in.Name,
		CurrentStep:          in.CurrentStep,
		JourneyStatus:        in.JourneyStatus,
		TargetCompletionDate: in.TargetCompletionDate,
		CreatedAt:            testEpoch,
		UpdatedAt:            testEpoch,
	}
	f.objectives[item.ID] = item
	return item, nil
}

func (f *fakeDirectory) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type testEnv struct {
	dir     *fakeDirectory
	clock   *clock.Manual
	locks   *lock.MemoryStore
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := newFakeDirectory()
	clk := clock.NewManual(testEpoch)
	locks := lock.NewMemoryStore(clk)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := New(dir, locks, clk, logger)
	server := NewHTTPServer(service, auth.NewVerifier(string(testSecret), clk), cors.NewPolicy("https://app.example.com", ""), logger, nil)
	return &testEnv{dir: dir, clock: clk, locks: locks, handler: server.Handler()}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.Sign(testSecret, auth.Claims{Sub: userID, Exp: e.clock.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, userID, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec, decodeResponse(t, rec)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if rec.Body.Len() == 0 {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}
