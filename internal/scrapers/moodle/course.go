package moodle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrExportUnavailable is returned when moodle will not hand out a content
// export for a course.
var ErrExportUnavailable = errors.New("course content export is unavailable")

type CourseDescriptor struct {
	Url       *url.URL
	Id        int64
	ContextId int64
	Name      string
	Sections  []Section
}

func parseIdFromUrl(link *url.URL, key string) (int64, error) {
	return strconv.ParseInt(link.Query().Get(key), 10, 64)
}

// FetchCourse fetches a course's overview page and reads its title and sections.
func (c *Client) FetchCourse(ctx context.Context, courseUrl string) (CourseDescriptor, error) {
	ctx, span := tracer.Start(ctx, "client:FetchCourse")
	defer span.End()
	span.SetAttributes(attribute.String("url", courseUrl))

	link, err := url.Parse(courseUrl)
	if err != nil || !link.IsAbs() || link.Host == "" {
		span.SetStatus(codes.Error, "invalid url")
		return CourseDescriptor{}, fmt.Errorf("%w: %q", ErrInvalidUrl, courseUrl)
	}
	if link.Hostname() != c.BaseUrl.Hostname() {
		c.tel.ReportWarning(
			report_client_fetch_course,
			fmt.Errorf("course is not hosted on the logged in site"),
			courseUrl,
		)
	}

	ctx, cancel := c.withTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	c.tel.ReportDebug(report_client_fetch_course, courseUrl)

	res, err := c.Http.R().
		SetContext(ctx).
		Get(link.String())
	if err != nil {
		c.tel.ReportBroken(
			report_client_fetch_course,
			fmt.Errorf("fetch: %w", err),
			courseUrl,
		)
		span.SetStatus(codes.Error, "failed to fetch")
		return CourseDescriptor{}, fmt.Errorf("fetch course: %w", err)
	}
	err = checkResponse(res.RawResponse)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return CourseDescriptor{}, err
	}

	page, err := ParseCoursePage(res.String())
	if err != nil {
		c.tel.ReportWarning(
			report_client_fetch_course,
			fmt.Errorf("parse: %w", err),
			courseUrl,
		)
		span.SetStatus(codes.Error, "failed to parse")
		return CourseDescriptor{}, fmt.Errorf("%w: %w", ErrUnparsable, err)
	}
	c.setSesskey(page.Config.Sesskey)

	id := page.Config.CourseId
	if id == 0 {
		id, err = parseIdFromUrl(link, "id")
		if err != nil {
			c.tel.ReportDebug("course url has no id", courseUrl)
		}
	}

	span.SetAttributes(
		attribute.String("title", page.Title),
		attribute.Int("sections", len(page.Sections)),
	)

	return CourseDescriptor{
		Url:       link,
		Id:        id,
		ContextId: page.Config.ContextId,
		Name:      page.Title,
		Sections:  page.Sections,
	}, nil
}

// DownloadArchive asks moodle for the "download course content" export of a
// course and streams it into archivePath. Nothing is left at archivePath if
// the download fails.
func (c *Client) DownloadArchive(ctx context.Context, course CourseDescriptor, archivePath string) (err error) {
	ctx, span := tracer.Start(ctx, "client:DownloadArchive")
	defer span.End()
	span.SetAttributes(attribute.String("course", course.Name))

	if course.ContextId == 0 {
		span.SetStatus(codes.Error, "missing context id")
		return fmt.Errorf("%w: course page did not expose a context id", ErrExportUnavailable)
	}

	ctx, cancel := c.withTimeout(ctx, c.opts.DownloadTimeout)
	defer cancel()

	c.tel.ReportDebug(report_client_download_archive, course.Name, course.ContextId)

	res, err := c.Http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetFormData(map[string]string{
			"contextid": strconv.FormatInt(course.ContextId, 10),
			"download":  "1",
			"sesskey":   c.Sesskey(),
		}).
		Post("/course/downloadcontent.php")
	if err != nil {
		c.tel.ReportBroken(
			report_client_download_archive,
			fmt.Errorf("fetch: %w", err),
			course.Name,
		)
		span.SetStatus(codes.Error, "failed to fetch")
		return fmt.Errorf("download archive: %w", err)
	}
	body := res.RawBody()
	defer body.Close()
	c.instrument.ReportUnparsed(res)

	err = checkResponse(res.RawResponse)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	mediatype, _, _ := mime.ParseMediaType(res.Header().Get("content-type"))
	if mediatype == "text/html" {
		span.SetStatus(codes.Error, "got html instead of an archive")
		return fmt.Errorf("%w: got html instead of an archive", ErrExportUnavailable)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		closeErr := out.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("close archive file: %w", closeErr)
		}
		if err != nil {
			os.Remove(archivePath)
		}
	}()

	n, err := io.Copy(out, body)
	if err != nil {
		c.tel.ReportBroken(
			report_client_download_archive,
			fmt.Errorf("write: %w", err),
			course.Name,
		)
		span.SetStatus(codes.Error, "failed to write archive")
		return fmt.Errorf("download archive: %w", err)
	}
	span.SetAttributes(attribute.Int64("bytes", n))

	return nil
}
