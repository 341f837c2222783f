package db

type Run struct {
	ID         string
	StartedAt  int64
	FinishedAt int64
}

type CourseResult struct {
	RunID     string
	Idx       int64
	Url       string
	Course    string
	Directory string
	Kind      string
	Error     string
}
