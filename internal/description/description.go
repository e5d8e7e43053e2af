// Package description extracts class metadata (Zoom link, meeting ID,
// passcode, program, teacher, class name) from the free-text description
// the calendar provider stores on an event. Descriptions are frequently
// HTML produced by the provider's editor.
package description

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Info is the metadata found in a description. Missing values are "".
type Info struct {
	ZoomLink  string `json:"zoom_link"`
	MeetingID string `json:"meeting_id"`
	Passcode  string `json:"passcode"`
	Program   string `json:"program"`
	Teacher   string `json:"teacher"`
	ClassName string `json:"classname"`
}

var (
	zoomLinkRe  = regexp.MustCompile(`(?i)https://[\w.-]*zoom\.us/\S+`)
	meetingRe   = regexp.MustCompile(`(?i)Meeting ID[:：]?\s*([0-9 ]+)`)
	passcodeRe  = regexp.MustCompile(`(?i)Passcode[:：]?\s*([A-Za-z0-9]+)`)
	programRe   = regexp.MustCompile(`(?i)Program[:：]?\s*([A-Za-z0-9]+)`)
	teacherGVRe = regexp.MustCompile(`(?i)GV[:：]?\s*(.*?)(?:\n|$)`)
	teacherRe   = regexp.MustCompile(`(?i)Teacher[:：]?\s*(.*?)(?:\n|$)`)
	classnameRe = regexp.MustCompile(`(?i)Classname[:：]?\s*(.*?)(?:\n|$)`)
	spacesRe    = regexp.MustCompile(`\s+`)
)

// Parse cleans raw and extracts Info from it.
func Parse(raw string) Info {
	if strings.TrimSpace(raw) == "" {
		return Info{}
	}
	text := Clean(raw)

	var info Info
	info.ZoomLink = strings.TrimSpace(zoomLinkRe.FindString(text))
	if m := meetingRe.FindStringSubmatch(text); m != nil {
		info.MeetingID = spacesRe.ReplaceAllString(m[1], "")
	}
	info.Passcode = firstGroup(passcodeRe, text)
	info.Program = firstGroup(programRe, text)
	info.Teacher = firstGroup(teacherGVRe, text)
	if info.Teacher == "" && teacherGVRe.FindStringIndex(text) == nil {
		info.Teacher = firstGroup(teacherRe, text)
	}
	info.ClassName = firstGroup(classnameRe, text)
	return info
}

// Clean turns an HTML description into plain text: <br> becomes a newline,
// links are replaced by their href, every other tag is dropped.
func Clean(raw string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		s.ReplaceWithHtml(html.EscapeString(href))
	})

	return strings.TrimSpace(doc.Text())
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
