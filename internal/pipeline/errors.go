package pipeline

import (
	"context"
	"errors"
	"fmt"

	"moodledl/internal/archive"
	"moodledl/internal/scrapers/moodle"
)

type Stage string

const (
	// StageSetup is a failure before any course was looked at, it is shared
	// by every url of the run.
	StageSetup    Stage = "setup"
	StageFetch    Stage = "fetch"
	StageDownload Stage = "download"
	StageExtract  Stage = "extract"
	// StagePending marks a course the run was canceled before it started.
	StagePending Stage = "pending"
)

// CourseError is the failure of a single course url, it never stops the
// rest of a run.
type CourseError struct {
	Url   string
	Stage Stage
	Err   error
}

func (e *CourseError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Stage, e.Url, e.Err.Error())
}

func (e *CourseError) Unwrap() error {
	return e.Err
}

func courseError(url string, stage Stage, err error) error {
	var courseErr *CourseError
	if errors.As(err, &courseErr) {
		return err
	}
	return &CourseError{Url: url, Stage: stage, Err: err}
}

// ErrorKind names the kind of failure err is, nil is "Ok".
func ErrorKind(err error) string {
	if err == nil {
		return "Ok"
	}

	var statusErr *moodle.HttpStatusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("HttpStatus(%d)", statusErr.Code)
	case errors.Is(err, moodle.ErrAuthRequired):
		return "AuthRequired"
	case errors.Is(err, moodle.ErrInvalidCredentials):
		return "InvalidCredentials"
	case errors.Is(err, moodle.ErrMissingCredentials):
		return "MissingCredentials"
	case errors.Is(err, moodle.ErrMissingTitle):
		return "Unparsable(MissingTitle)"
	case errors.Is(err, moodle.ErrMissingHref):
		return "Unparsable(MissingHref)"
	case errors.Is(err, moodle.ErrUnparsable):
		return "Unparsable"
	case errors.Is(err, moodle.ErrInvalidUrl):
		return "InvalidUrl"
	case errors.Is(err, moodle.ErrExportUnavailable):
		return "ExportUnavailable"
	case errors.Is(err, archive.ErrUnsafePath):
		return "UnsafePath"
	case errors.Is(err, archive.ErrCorrupt):
		return "Corrupt"
	case errors.Is(err, archive.ErrIo):
		return "Io"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	}
	return "Error"
}
