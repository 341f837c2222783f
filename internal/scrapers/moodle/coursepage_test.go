package moodle

import (
	"fmt"
	"testing"

	"moodledl/internal/components/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func TestParseCoursePage(t *testing.T) {
	cases := []struct {
		name     string
		sections []string
	}{
		{name: "no sections"},
		{name: "one section", sections: []string{"https://moodle.example.edu/course/view.php?id=4#section-1"}},
		{
			name: "many sections",
			sections: []string{
				"https://moodle.example.edu/course/view.php?id=4#section-3",
				"/course/view.php?id=4&section=1",
				"section.php?id=12",
				"https://moodle.example.edu/course/view.php?id=4#section-0",
			},
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			page, err := ParseCoursePage(testutil.CoursePageHtml("  Chemistry 1A  ", 4, 88, test.sections...))
			require.NoError(t, err)
			require.Equal(t, "Chemistry 1A", page.Title)

			hrefs := make([]string, len(page.Sections))
			for i, s := range page.Sections {
				hrefs[i] = s.Href
				require.Equal(t, fmt.Sprintf("Topic %d", i+1), s.Name)
			}
			if diff := cmp.Diff(test.sections, hrefs, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("sections mismatch (-want +got):\n%s", diff)
			}

			require.Equal(t, PageConfig{
				Sesskey:   testutil.FakeSesskey,
				ContextId: 88,
				CourseId:  4,
			}, page.Config)
		})
	}
}

func TestParseCoursePageMissingTitle(t *testing.T) {
	cases := []string{
		`<html><body><ul class="topics"></ul></body></html>`,
		`<html><body><h1 class="page-header">   </h1></body></html>`,
		`<html><body><h2 class="page-header">Not a heading</h2></body></html>`,
	}
	for _, doc := range cases {
		page, err := ParseCoursePage(doc)
		require.ErrorIs(t, err, ErrMissingTitle)
		require.Equal(t, CoursePage{}, page)
	}
}

func TestParseCoursePageFirstTextNode(t *testing.T) {
	doc := `<html><body>
		<h1 class="page-header">
			History <span class="badge">Hidden from students</span> 2024
		</h1>
		<h1 class="page-header">Second</h1>
	</body></html>`
	page, err := ParseCoursePage(doc)
	require.NoError(t, err)
	require.Equal(t, "History", page.Title)
}

func TestParseCoursePageNewerHeader(t *testing.T) {
	doc := `<html><body><div class="page-header-headings"><h1>Physics</h1></div></body></html>`
	page, err := ParseCoursePage(doc)
	require.NoError(t, err)
	require.Equal(t, "Physics", page.Title)
	require.Empty(t, page.Sections)
	require.Equal(t, PageConfig{}, page.Config)
}

func TestParseCoursePageMissingHref(t *testing.T) {
	doc := `<html><body>
		<h1 class="page-header">Art</h1>
		<ul class="topics">
			<li class="section main"><div class="content"><h3 class="sectionname"><a href="/a">A</a></h3></div></li>
			<li class="section main"><div class="content"><h3 class="sectionname"><a>B</a></h3></div></li>
		</ul>
	</body></html>`
	_, err := ParseCoursePage(doc)
	require.ErrorIs(t, err, ErrMissingHref)
}

func TestParseCoursePageIgnoresOtherLinks(t *testing.T) {
	doc := `<html><body>
		<h1 class="page-header">Art</h1>
		<ul class="topics">
			<li class="section main">
				<div class="content">
					<h3 class="sectionname"><a href="/section-1">One</a></h3>
					<a href="/activity">activity link</a>
				</div>
			</li>
			<li class="section hidden"><div class="content"><h3 class="sectionname"><a href="/hidden">Hidden</a></h3></div></li>
		</ul>
		<ul class="weeks">
			<li class="section main"><div class="content"><h3 class="sectionname"><a href="/week">Week</a></h3></div></li>
		</ul>
	</body></html>`
	page, err := ParseCoursePage(doc)
	require.NoError(t, err)
	require.Equal(t, []Section{{Name: "One", Href: "/section-1"}}, page.Sections)
}
