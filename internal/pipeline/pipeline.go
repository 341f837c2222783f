package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"moodledl/internal/archive"
	"moodledl/internal/components/assert"
	"moodledl/internal/components/chrono"
	"moodledl/internal/components/concurrency"
	"moodledl/internal/components/telemetry"
	"moodledl/internal/scrapers/moodle"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_pipeline_run            = "pipeline.run"
	report_pipeline_course         = "pipeline.course"
	report_pipeline_remove_archive = "pipeline.remove-archive"
	report_pipeline_record         = "pipeline.record"
)

var tracer = otel.Tracer("pipeline")
var meter = otel.Meter("pipeline")
var coursesProcessed, _ = meter.Int64Counter(
	"courses_processed",
	metric.WithDescription("courses that went through the pipeline, by result kind"),
)

// Session is an authenticated moodle session.
type Session interface {
	FetchCourse(ctx context.Context, courseUrl string) (moodle.CourseDescriptor, error)
	DownloadArchive(ctx context.Context, course moodle.CourseDescriptor, archivePath string) error
}

// Authenticator turns credentials into a Session.
type Authenticator func(ctx context.Context, creds moodle.Credentials) (Session, error)

// Recorder persists the outcome of a run.
type Recorder interface {
	Record(ctx context.Context, run Run) error
}

type Result struct {
	Url string
	// Course is the title of the course, empty if it couldn't be fetched.
	Course string
	// Directory is the name of the directory under the output directory the
	// course was extracted into.
	Directory string
	Err       error
}

type Run struct {
	Id         string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []Result
}

type Options struct {
	OutputDir string
	// Workers is the amount of courses handled at once, 1 if unset.
	Workers int
	// KeepArchives leaves the downloaded archives next to the extracted
	// directories.
	KeepArchives bool
	Telemetry    telemetry.API
	// Recorder is optional.
	Recorder Recorder
	// Clock stamps runs, the system clock if unset.
	Clock chrono.API
}

type Pipeline struct {
	authenticate Authenticator
	extract      func(archivePath, destDir string) error
	opts         Options
	tel          telemetry.API
}

func New(authenticate Authenticator, opts Options) Pipeline {
	assert.NotNil(authenticate)
	assert.NotNil(opts.Telemetry)

	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Clock == nil {
		opts.Clock = chrono.StandardImpl{}
	}

	return Pipeline{
		authenticate: authenticate,
		extract:      archive.Extract,
		opts:         opts,
		tel:          telemetry.NewScopedAPI("pipeline", opts.Telemetry),
	}
}

// Run authenticates once and then fetches, downloads and extracts every
// course url. The returned results are in the same order as urls, a course
// failing never stops the others.
//
// The only errors returned are failures to authenticate or to create the
// output directory, every result then carries the same error.
func (p Pipeline) Run(ctx context.Context, creds moodle.Credentials, urls []string) (Run, error) {
	ctx, span := tracer.Start(ctx, "pipeline:Run", trace.WithAttributes(
		attribute.Int("courses", len(urls)),
		attribute.Int("workers", p.opts.Workers),
	))
	defer span.End()

	run := Run{
		Id:        uuid.NewString(),
		StartedAt: p.opts.Clock.Now(),
		Results:   make([]Result, len(urls)),
	}
	for i, u := range urls {
		run.Results[i].Url = u
	}

	session, err := p.authenticate(ctx, creds)
	if err != nil {
		err = fmt.Errorf("authenticate: %w", err)
		p.tel.ReportBroken(report_pipeline_run, err)
		return failRun(run, err), err
	}

	err = os.MkdirAll(p.opts.OutputDir, 0755)
	if err != nil {
		err = fmt.Errorf("create output directory: %w", err)
		p.tel.ReportBroken(report_pipeline_run, err)
		return failRun(run, err), err
	}

	workers := concurrency.Options{MaxWorkers: p.opts.Workers}

	// started[i] is only written by the worker handling url i
	started := make([]bool, len(urls))
	courses, errs := concurrency.Process(
		ctx, urls, workers,
		func(ctx context.Context, i int, u string) (moodle.CourseDescriptor, error) {
			started[i] = true
			return session.FetchCourse(ctx, u)
		},
	)

	// names are handed out in input order so that collisions resolve the
	// same way no matter which fetch finished first.
	names := newNameAllocator()
	var pending []int
	for i := range urls {
		if errs[i] != nil {
			stage := StageFetch
			if !started[i] {
				stage = StagePending
			}
			run.Results[i].Err = courseError(urls[i], stage, errs[i])
			continue
		}
		run.Results[i].Course = courses[i].Name
		run.Results[i].Directory = names.allocate(courses[i].Name)
		pending = append(pending, i)
	}

	_, errs = concurrency.Process(
		ctx, pending, workers,
		func(ctx context.Context, _ int, idx int) (struct{}, error) {
			return struct{}{}, p.materialize(ctx, session, courses[idx], run.Results[idx])
		},
	)
	// materialize tags its own errors, anything else never started
	for i, idx := range pending {
		if errs[i] != nil {
			run.Results[idx].Err = courseError(urls[idx], StagePending, errs[i])
		}
	}

	run.FinishedAt = p.opts.Clock.Now()
	p.report(ctx, run)

	if p.opts.Recorder != nil {
		err = p.opts.Recorder.Record(context.WithoutCancel(ctx), run)
		if err != nil {
			p.tel.ReportBroken(report_pipeline_record, err, run.Id)
		}
	}

	return run, nil
}

// failRun gives every result of run the setup error err.
func failRun(run Run, err error) Run {
	for i := range run.Results {
		run.Results[i].Err = &CourseError{Url: run.Results[i].Url, Stage: StageSetup, Err: err}
	}
	return run
}

func (p Pipeline) materialize(ctx context.Context, session Session, course moodle.CourseDescriptor, result Result) error {
	archivePath := filepath.Join(p.opts.OutputDir, result.Directory+".zip")
	destDir := filepath.Join(p.opts.OutputDir, result.Directory)

	err := session.DownloadArchive(ctx, course, archivePath)
	if err != nil {
		return courseError(result.Url, StageDownload, err)
	}

	err = os.MkdirAll(destDir, 0755)
	if err != nil {
		return courseError(result.Url, StageExtract, fmt.Errorf("%w: %w", archive.ErrIo, err))
	}
	err = p.extract(archivePath, destDir)
	if err != nil {
		return courseError(result.Url, StageExtract, err)
	}

	if !p.opts.KeepArchives {
		err = os.Remove(archivePath)
		if err != nil {
			p.tel.ReportWarning(report_pipeline_remove_archive, err, archivePath)
		}
	}
	return nil
}

func (p Pipeline) report(ctx context.Context, run Run) {
	var failed int64
	for _, r := range run.Results {
		kind := ErrorKind(r.Err)
		if r.Err != nil {
			failed++
			p.tel.ReportWarning(report_pipeline_course, r.Err, r.Url, kind)
		} else {
			p.tel.ReportDebug("course extracted", r.Url, r.Directory)
		}
		coursesProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
	p.tel.ReportCount("pipeline.failed", failed)
	p.tel.ReportCount("pipeline.succeeded", int64(len(run.Results))-failed)
}

// MoodleAuthenticator logs into moodle with opts for every run.
func MoodleAuthenticator(opts moodle.ClientOptions) Authenticator {
	return func(ctx context.Context, creds moodle.Credentials) (Session, error) {
		client, err := moodle.Login(ctx, opts, creds)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
