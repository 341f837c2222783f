package db

import (
	"context"
)

const createRun = `
insert into run (id, started_at, finished_at) values (?, ?, ?)
`

type CreateRunParams struct {
	ID         string
	StartedAt  int64
	FinishedAt int64
}

func (q *Queries) CreateRun(ctx context.Context, arg CreateRunParams) error {
	_, err := q.db.ExecContext(ctx, createRun, arg.ID, arg.StartedAt, arg.FinishedAt)
	return err
}

const createCourseResult = `
insert into course_result (run_id, idx, url, course, directory, kind, error)
values (?, ?, ?, ?, ?, ?, ?)
`

type CreateCourseResultParams struct {
	RunID     string
	Idx       int64
	Url       string
	Course    string
	Directory string
	Kind      string
	Error     string
}

func (q *Queries) CreateCourseResult(ctx context.Context, arg CreateCourseResultParams) error {
	_, err := q.db.ExecContext(ctx, createCourseResult,
		arg.RunID,
		arg.Idx,
		arg.Url,
		arg.Course,
		arg.Directory,
		arg.Kind,
		arg.Error,
	)
	return err
}

const getRecentRuns = `
select
    run.id,
    run.started_at,
    run.finished_at,
    count(course_result.idx) as total,
    coalesce(sum(course_result.kind != 'Ok'), 0) as failed
from run
left join course_result on course_result.run_id = run.id
group by run.id
order by run.started_at desc, run.id
limit ?
`

type GetRecentRunsRow struct {
	ID         string
	StartedAt  int64
	FinishedAt int64
	Total      int64
	Failed     int64
}

func (q *Queries) GetRecentRuns(ctx context.Context, limit int64) ([]GetRecentRunsRow, error) {
	rows, err := q.db.QueryContext(ctx, getRecentRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GetRecentRunsRow
	for rows.Next() {
		var i GetRecentRunsRow
		if err := rows.Scan(
			&i.ID,
			&i.StartedAt,
			&i.FinishedAt,
			&i.Total,
			&i.Failed,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getRunResults = `
select run_id, idx, url, course, directory, kind, error from course_result
where run_id = ?
order by idx
`

func (q *Queries) GetRunResults(ctx context.Context, runID string) ([]CourseResult, error) {
	rows, err := q.db.QueryContext(ctx, getRunResults, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CourseResult
	for rows.Next() {
		var i CourseResult
		if err := rows.Scan(
			&i.RunID,
			&i.Idx,
			&i.Url,
			&i.Course,
			&i.Directory,
			&i.Kind,
			&i.Error,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
