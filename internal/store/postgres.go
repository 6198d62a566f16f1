package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// invalidTextRepresentation is the SQLSTATE Postgres raises for a malformed
// literal, e.g. a non-UUID id compared against a uuid column.
const invalidTextRepresentation = "22P02"

// lookupErr reports a malformed id as sql.ErrNoRows: no row can carry it.
func lookupErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation {
		return fmt.Errorf("%w: %s", sql.ErrNoRows, pgErr.Message)
	}
	return err
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const objectiveColumns = `id, project_id, name, current_step, journey_status, brainstorm_data, choose_data, objectives_data, target_completion_date, actual_completion_date, is_archived, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObjective(row rowScanner) (Objective, error) {
	var (
		item                      Objective
		brainstorm, choose, plans []byte
		target, actual            sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Name,
		&item.CurrentStep,
		&item.JourneyStatus,
		&brainstorm,
		&choose,
		&plans,
		&target,
		&actual,
		&item.IsArchived,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Objective{}, err
	}
	item.BrainstormData = rawJSON(brainstorm)
	item.ChooseData = rawJSON(choose)
	item.ObjectivesData = rawJSON(plans)
	item.TargetCompletionDate = nullTime(target)
	item.ActualCompletionDate = nullTime(actual)
	return item, nil
}

func (s *PostgresStore) GetObjective(ctx context.Context, objectiveID string) (Objective, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+objectiveColumns+` FROM objectives WHERE id=$1`, objectiveID)
	item, err := scanObjective(row)
	if err != nil {
		return Objective{}, lookupErr(err)
	}
	return item, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, name, is_archived
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.TeamID, &item.Name, &item.IsArchived)
	if err != nil {
		return Project{}, lookupErr(err)
	}
	return item, nil
}

// FindMembership returns sql.ErrNoRows when userID is not a member of teamID.
func (s *PostgresStore) FindMembership(ctx context.Context, userID, teamID string) (TeamMember, error) {
	var item TeamMember
	err := s.db.QueryRowContext(ctx, `
		SELECT id, team_id, user_id, role
		FROM team_members
		WHERE user_id=$1 AND team_id=$2
		LIMIT 1
	`, userID, teamID).Scan(&item.ID, &item.TeamID, &item.UserID, &item.Role)
	if err != nil {
		return TeamMember{}, lookupErr(err)
	}
	return item, nil
}

func (s *PostgresStore) ListObjectives(ctx context.Context, projectID string, filter ObjectiveFilter) ([]Objective, error) {
	status := filter.JourneyStatus
	if status == "all" {
		status = ""
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+objectiveColumns+`
		FROM objectives
		WHERE project_id=$1
		  AND ($2::boolean OR is_archived = FALSE)
		  AND ($3 = '' OR journey_status = $3)
		ORDER BY created_at ASC
	`, projectID, filter.IncludeArchived, status)
	if err != nil {
		return nil, fmt.Errorf("list objectives: %w", lookupErr(err))
	}
	defer rows.Close()

	items := make([]Objective, 0)
	for rows.Next() {
		item, err := scanObjective(rows)
		if err != nil {
			return nil, fmt.Errorf("scan objective: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objectives: %w", err)
	}
	return items, nil
}

// UpdateObjective applies patch and returns the updated row. An empty patch
// only bumps updated_at.
func (s *PostgresStore) UpdateObjective(ctx context.Context, objectiveID string, patch ObjectivePatch) (Objective, error) {
	sets, args := patchAssignments(patch)
	sets = append(sets, "updated_at=NOW()")
	args = append(args, objectiveID)

	query := fmt.Sprintf(
		`UPDATE objectives SET %s WHERE id=$%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), objectiveColumns,
	)
	item, err := scanObjective(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Objective{}, lookupErr(err)
	}
	return item, nil
}

// CreateObjective inserts an unarchived objective and returns the stored row.
func (s *PostgresStore) CreateObjective(ctx context.Context, in NewObjective) (Objective, error) {
	var target any
	if in.TargetCompletionDate != nil {
		target = in.TargetCompletionDate.UTC()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO objectives (project_id, name, current_step, journey_status, target_completion_date, is_archived)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		RETURNING `+objectiveColumns,
		in.ProjectID, in.Name, in.CurrentStep, in.JourneyStatus, target,
	)
	item, err := scanObjective(row)
	if err != nil {
		return Objective{}, fmt.Errorf("create objective: %w", lookupErr(err))
	}
	return item, nil
}

func patchAssignments(patch ObjectivePatch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any, cast string) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d%s", column, len(args), cast))
	}
	if patch.Name != nil {
		add("name", *patch.Name, "")
	}
	if patch.CurrentStep != nil {
		add("current_step", *patch.CurrentStep, "")
	}
	if patch.JourneyStatus != nil {
		add("journey_status", *patch.JourneyStatus, "")
	}
	if patch.BrainstormData != nil {
		add("brainstorm_data", string(patch.BrainstormData), "::jsonb")
	}
	if patch.ChooseData != nil {
		add("choose_data", string(patch.ChooseData), "::jsonb")
	}
	if patch.ObjectivesData != nil {
		add("objectives_data", string(patch.ObjectivesData), "::jsonb")
	}
	switch {
	case patch.ClearTargetCompletionDate:
		sets = append(sets, "target_completion_date=NULL")
	case patch.TargetCompletionDate != nil:
		add("target_completion_date", patch.TargetCompletionDate.UTC(), "")
	}
	if patch.IsArchived != nil {
		add("is_archived", *patch.IsArchived, "")
	}
	return sets, args
}

func rawJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
