package testutil

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	fakeLoginToken = "fake-login-token"
	fakeSession    = "fake-session"
	FakeSesskey    = "fake-sesskey"
)

// FakeCourse is a course served by FakeMoodle.
type FakeCourse struct {
	Id        int64
	ContextId int64
	// Page is served as the course page, see CoursePageHtml.
	Page string
	// Status overrides the status of the course page if set.
	Status int
	// Archive is served as the course's content export.
	Archive []byte
}

// FakeMoodle is an httptest server that imitates the parts of moodle that
// are used to log in, view a course and export its content.
type FakeMoodle struct {
	Server   *httptest.Server
	Username string
	Password string

	mutex   sync.Mutex
	courses map[int64]FakeCourse
	exports []int64
}

func NewFakeMoodle(t testing.TB, username, password string) *FakeMoodle {
	m := &FakeMoodle{
		Username: username,
		Password: password,
		courses:  map[int64]FakeCourse{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login/index.php", m.handleLogin)
	mux.HandleFunc("/course/view.php", m.handleCourse)
	mux.HandleFunc("/course/downloadcontent.php", m.handleDownload)
	mux.HandleFunc("/", m.handleDashboard)

	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Server.Close)
	return m
}

func (m *FakeMoodle) Url() string {
	return m.Server.URL
}

func (m *FakeMoodle) CourseUrl(id int64) string {
	return fmt.Sprintf("%s/course/view.php?id=%d", m.Server.URL, id)
}

func (m *FakeMoodle) AddCourse(course FakeCourse) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.courses[course.Id] = course
}

// Exports returns the context ids of every export that was served.
func (m *FakeMoodle) Exports() []int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]int64(nil), m.exports...)
}

func (m *FakeMoodle) loggedIn(r *http.Request) bool {
	cookie, err := r.Cookie("MoodleSession")
	return err == nil && cookie.Value == fakeSession
}

func (m *FakeMoodle) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/login/index.php", http.StatusSeeOther)
}

func (m *FakeMoodle) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		fmt.Fprintf(
			w,
			`<html><body><form method="post"><input type="hidden" name="logintoken" value="%s"><input name="username"><input name="password"></form></body></html>`,
			fakeLoginToken,
		)
		return
	}

	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("logintoken") != fakeLoginToken ||
		r.PostForm.Get("username") != m.Username ||
		r.PostForm.Get("password") != m.Password {
		m.redirectToLogin(w, r)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "MoodleSession", Value: fakeSession, Path: "/"})
	http.Redirect(w, r, "/?testsession=1", http.StatusSeeOther)
}

func (m *FakeMoodle) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !m.loggedIn(r) {
		m.redirectToLogin(w, r)
		return
	}
	fmt.Fprintf(
		w,
		`<html><head><script>M.cfg = {"sesskey":"%s","contextid":1};</script></head><body><span class="avatar current">ME</span></body></html>`,
		FakeSesskey,
	)
}

func (m *FakeMoodle) handleCourse(w http.ResponseWriter, r *http.Request) {
	if !m.loggedIn(r) {
		m.redirectToLogin(w, r)
		return
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid course id", http.StatusBadRequest)
		return
	}

	m.mutex.Lock()
	course, ok := m.courses[id]
	m.mutex.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if course.Status != 0 {
		w.WriteHeader(course.Status)
		return
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	fmt.Fprint(w, course.Page)
}

func (m *FakeMoodle) handleDownload(w http.ResponseWriter, r *http.Request) {
	if !m.loggedIn(r) {
		m.redirectToLogin(w, r)
		return
	}
	err := r.ParseForm()
	if err != nil || r.Method != http.MethodPost {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("sesskey") != FakeSesskey || r.PostForm.Get("download") != "1" {
		w.Header().Set("content-type", "text/html")
		fmt.Fprint(w, `<html><body>Your session has most likely timed out.</body></html>`)
		return
	}
	contextId, err := strconv.ParseInt(r.PostForm.Get("contextid"), 10, 64)
	if err != nil {
		http.Error(w, "invalid context id", http.StatusBadRequest)
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, course := range m.courses {
		if course.ContextId != contextId {
			continue
		}
		m.exports = append(m.exports, contextId)
		w.Header().Set("content-type", "application/zip")
		w.Write(course.Archive)
		return
	}
	http.Error(w, "no such context", http.StatusNotFound)
}

// CoursePageHtml renders a course page the way moodle's topics format does.
func CoursePageHtml(title string, courseId, contextId int64, sections ...string) string {
	var list strings.Builder
	for i, href := range sections {
		fmt.Fprintf(
			&list,
			`<li class="section main"><div class="content"><h3 class="sectionname"><a href="%s">Topic %d</a></h3></div></li>`,
			html.EscapeString(href), i+1,
		)
	}
	return fmt.Sprintf(
		`<html><head><script>
//<![CDATA[
M.cfg = {"wwwroot":"https://moodle.example.edu","sesskey":"%s","courseId":%d,"contextid":%d};
//]]>
</script></head><body>
<div class="page-header-headings"><h1 class="page-header">
	%s
</h1></div>
<ul class="topics">%s</ul>
</body></html>`,
		FakeSesskey, courseId, contextId, html.EscapeString(title), list.String(),
	)
}
