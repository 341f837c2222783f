package moodle

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"moodledl/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrMissingTitle = errors.New("course page has no title")
	ErrMissingHref  = htmlutil.ErrMissingHref
)

const (
	titleSelector   = "h1.page-header, .page-header-headings h1"
	sectionSelector = "ul.topics li.section.main > div.content > h3.sectionname > a"
)

type Section htmlutil.Anchor

// PageConfig is the subset of moodle's M.cfg that is needed to talk to
// the rest of the site.
type PageConfig struct {
	Sesskey   string `json:"sesskey"`
	ContextId int64  `json:"contextid"`
	CourseId  int64  `json:"courseId"`
}

type CoursePage struct {
	Title    string
	Sections []Section
	Config   PageConfig
}

// ParseCoursePage reads the title and the section links off of a course's
// overview page. A page without sections is valid.
func ParseCoursePage(documentHtml string) (CoursePage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(documentHtml))
	if err != nil {
		return CoursePage{}, err
	}

	title, err := parseTitle(doc)
	if err != nil {
		return CoursePage{}, err
	}

	anchors, err := htmlutil.GetAnchors(doc.Find(sectionSelector))
	if err != nil {
		return CoursePage{}, err
	}
	sections := make([]Section, len(anchors))
	for i, a := range anchors {
		sections[i] = Section(a)
	}

	return CoursePage{
		Title:    title,
		Sections: sections,
		Config:   parsePageConfig(doc),
	}, nil
}

// only the first text node is used, the rest of a header tends to be
// badges and edit controls.
func parseTitle(doc *goquery.Document) (string, error) {
	header := doc.Find(titleSelector).First()
	if len(header.Nodes) == 0 {
		return "", ErrMissingTitle
	}
	text, ok := htmlutil.FirstText(header.Nodes[0])
	if !ok {
		return "", ErrMissingTitle
	}
	title := strings.TrimSpace(text)
	if title == "" {
		return "", ErrMissingTitle
	}
	return title, nil
}

var moodleConfigRegex = regexp.MustCompile(`(?m)M\.cfg *= *(.+?);`)

func parsePageConfig(doc *goquery.Document) PageConfig {
	var cfg PageConfig
	for _, script := range doc.Find("script").Nodes {
		groups := moodleConfigRegex.FindStringSubmatch(htmlutil.GetText(script))
		if len(groups) < 2 {
			continue
		}
		err := json.Unmarshal([]byte(groups[1]), &cfg)
		if err != nil {
			continue
		}
		return cfg
	}
	return cfg
}

func parseSesskey(doc *goquery.Document) string {
	return parsePageConfig(doc).Sesskey
}
