package moodle

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"moodledl/internal/components/telemetry"
	"moodledl/internal/components/testutil"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, m *testutil.FakeMoodle) *Client {
	client, err := NewClient(ClientOptions{
		BaseUrl:        m.Url(),
		RequestTimeout: 10 * time.Second,
		Telemetry:      telemetry.SlogAPI{},
	})
	require.NoError(t, err)
	return client
}

func TestLogin(t *testing.T) {
	m := testutil.NewFakeMoodle(t, "student", "hunter2")

	client, err := Login(context.Background(), ClientOptions{
		BaseUrl:   m.Url(),
		Telemetry: telemetry.SlogAPI{},
	}, Credentials{Username: "student", Password: "hunter2"})
	require.NoError(t, err)
	require.Equal(t, testutil.FakeSesskey, client.Sesskey())
}

func TestLoginInvalidCredentials(t *testing.T) {
	m := testutil.NewFakeMoodle(t, "student", "hunter2")
	client := newTestClient(t, m)

	err := client.LoginUsernamePassword(context.Background(), Credentials{Username: "student", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	err = client.LoginUsernamePassword(context.Background(), Credentials{})
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestNewClientInvalidBaseUrl(t *testing.T) {
	_, err := NewClient(ClientOptions{BaseUrl: "moodle.example.edu", Telemetry: telemetry.SlogAPI{}})
	require.ErrorIs(t, err, ErrInvalidUrl)
}

func TestFetchCourse(t *testing.T) {
	m := testutil.NewFakeMoodle(t, "student", "hunter2")
	m.AddCourse(testutil.FakeCourse{
		Id:        7,
		ContextId: 70,
		Page: testutil.CoursePageHtml(
			"Algebra II", 7, 70,
			"https://moodle.example.edu/course/view.php?id=7#section-1",
			"https://moodle.example.edu/course/view.php?id=7#section-2",
		),
	})
	m.AddCourse(testutil.FakeCourse{Id: 8, Status: http.StatusForbidden})
	m.AddCourse(testutil.FakeCourse{Id: 9, Page: "<html><body>maintenance</body></html>"})

	ctx := context.Background()
	client := newTestClient(t, m)

	t.Run("NotLoggedIn", func(t *testing.T) {
		_, err := client.FetchCourse(ctx, m.CourseUrl(7))
		require.ErrorIs(t, err, ErrAuthRequired)
	})

	require.NoError(t, client.LoginUsernamePassword(ctx, Credentials{Username: "student", Password: "hunter2"}))

	t.Run("Success", func(t *testing.T) {
		course, err := client.FetchCourse(ctx, m.CourseUrl(7))
		require.NoError(t, err)
		require.Equal(t, "Algebra II", course.Name)
		require.Equal(t, int64(7), course.Id)
		require.Equal(t, int64(70), course.ContextId)
		require.Len(t, course.Sections, 2)
		require.Equal(t, "https://moodle.example.edu/course/view.php?id=7#section-2", course.Sections[1].Href)
	})

	t.Run("HttpStatus", func(t *testing.T) {
		_, err := client.FetchCourse(ctx, m.CourseUrl(8))
		var statusErr *HttpStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusForbidden, statusErr.Code)
	})

	t.Run("Unparsable", func(t *testing.T) {
		_, err := client.FetchCourse(ctx, m.CourseUrl(9))
		require.ErrorIs(t, err, ErrUnparsable)
		require.ErrorIs(t, err, ErrMissingTitle)
	})

	t.Run("InvalidUrl", func(t *testing.T) {
		_, err := client.FetchCourse(ctx, "/course/view.php?id=7")
		require.ErrorIs(t, err, ErrInvalidUrl)
	})
}

func TestDownloadArchive(t *testing.T) {
	m := testutil.NewFakeMoodle(t, "student", "hunter2")
	archive := testutil.ZipBytes(t, testutil.ZipEntry{Name: "a.txt", Body: "hello"})
	m.AddCourse(testutil.FakeCourse{
		Id:        3,
		ContextId: 30,
		Page:      testutil.CoursePageHtml("Spanish", 3, 30),
		Archive:   archive,
	})

	ctx := context.Background()
	client := newTestClient(t, m)
	require.NoError(t, client.LoginUsernamePassword(ctx, Credentials{Username: "student", Password: "hunter2"}))

	course, err := client.FetchCourse(ctx, m.CourseUrl(3))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "Spanish.zip")
	require.NoError(t, client.DownloadArchive(ctx, course, out))

	contents, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, archive, contents)
	require.Equal(t, []int64{30}, m.Exports())

	t.Run("MissingContext", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "missing.zip")
		err := client.DownloadArchive(ctx, CourseDescriptor{Name: "Nothing"}, missing)
		require.ErrorIs(t, err, ErrExportUnavailable)
		_, err = os.Stat(missing)
		require.True(t, os.IsNotExist(err))
	})

	t.Run("UnknownContext", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "missing.zip")
		err := client.DownloadArchive(ctx, CourseDescriptor{Name: "Nothing", ContextId: 404}, missing)
		var statusErr *HttpStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusNotFound, statusErr.Code)
		_, err = os.Stat(missing)
		require.True(t, os.IsNotExist(err))
	})
}

func TestDownloadArchiveNotLoggedIn(t *testing.T) {
	m := testutil.NewFakeMoodle(t, "student", "hunter2")
	client := newTestClient(t, m)

	out := filepath.Join(t.TempDir(), "course.zip")
	err := client.DownloadArchive(context.Background(), CourseDescriptor{Name: "course", ContextId: 1}, out)
	require.ErrorIs(t, err, ErrAuthRequired)
	_, err = os.Stat(out)
	require.True(t, os.IsNotExist(err))
}

type memoryOutput struct {
	mutex    sync.Mutex
	messages map[string]string
}

func (o *memoryOutput) Write(id, contents string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.messages[id] = contents
}

func TestDownloadArchiveWritesMessage(t *testing.T) {
	m := testutil.NewFakeMoodle(t, "student", "hunter2")
	m.AddCourse(testutil.FakeCourse{
		Id:        4,
		ContextId: 40,
		Page:      testutil.CoursePageHtml("Latin", 4, 40),
		Archive:   testutil.ZipBytes(t, testutil.ZipEntry{Name: "a.txt", Body: "salve"}),
	})

	output := &memoryOutput{messages: map[string]string{}}
	ctx := context.Background()
	client, err := Login(ctx, ClientOptions{
		BaseUrl:       m.Url(),
		Telemetry:     telemetry.SlogAPI{},
		MessageOutput: output,
	}, Credentials{Username: "student", Password: "hunter2"})
	require.NoError(t, err)

	course, err := client.FetchCourse(ctx, m.CourseUrl(4))
	require.NoError(t, err)
	require.NoError(t, client.DownloadArchive(ctx, course, filepath.Join(t.TempDir(), "Latin.zip")))

	var export string
	for _, message := range output.messages {
		if strings.Contains(message, "/course/downloadcontent.php") {
			export = message
		}
	}
	require.NotEmpty(t, export, "the export request should be written out")
	require.Contains(t, export, "POST ")
	require.Contains(t, export, "200 ")
	require.Contains(t, export, "<STREAMED BODY>")
}
