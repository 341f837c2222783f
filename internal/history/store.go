package history

import (
	"context"
	"database/sql"
	"time"

	"moodledl/internal/db"
	"moodledl/internal/pipeline"
)

// Store keeps a record of every run and what happened to each of its courses.
type Store struct {
	db  *sql.DB
	qry *db.Queries
}

func NewStore(database *sql.DB) Store {
	return Store{
		db:  database,
		qry: db.New(database),
	}
}

func (s Store) Record(ctx context.Context, run pipeline.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	err = txqry.CreateRun(ctx, db.CreateRunParams{
		ID:         run.Id,
		StartedAt:  run.StartedAt.Unix(),
		FinishedAt: run.FinishedAt.Unix(),
	})
	if err != nil {
		return err
	}

	for i, result := range run.Results {
		message := ""
		if result.Err != nil {
			message = result.Err.Error()
		}
		err = txqry.CreateCourseResult(ctx, db.CreateCourseResultParams{
			RunID:     run.Id,
			Idx:       int64(i),
			Url:       result.Url,
			Course:    result.Course,
			Directory: result.Directory,
			Kind:      pipeline.ErrorKind(result.Err),
			Error:     message,
		})
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

type RunSummary struct {
	Id         string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Failed     int
}

// Runs lists the latest runs, newest first.
func (s Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.qry.GetRecentRuns(ctx, int64(limit))
	if err != nil {
		return nil, err
	}
	runs := make([]RunSummary, len(rows))
	for i, r := range rows {
		runs[i] = RunSummary{
			Id:         r.ID,
			StartedAt:  time.Unix(r.StartedAt, 0),
			FinishedAt: time.Unix(r.FinishedAt, 0),
			Total:      int(r.Total),
			Failed:     int(r.Failed),
		}
	}
	return runs, nil
}

// Results returns the per course results of a run in input order.
func (s Store) Results(ctx context.Context, runId string) ([]db.CourseResult, error) {
	return s.qry.GetRunResults(ctx, runId)
}
