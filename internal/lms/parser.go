// internal/lms/parser.go
package lms

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"lms-deadline-tracker/internal/model"
	"lms-deadline-tracker/internal/normalize"
)

// Header keywords identifying the title and due-date columns of an
// assignment table, matched as lower-cased substrings so the page language
// and column order do not matter.
var (
	titleHeaderKeywords = []string{"과제", "assignment", "활동", "activity"}
	dueHeaderKeywords   = []string{"종료", "마감", "due", "마감일", "종료 일시", "due date"}
)

// ParseAssignments extracts assignment rows from an assignment index page.
// Every table is inspected; the first one whose headers expose both a title
// and a due column yields the items. A page with no matching table simply
// contributes nothing.
func ParseAssignments(doc *goquery.Document, courseName string, base *url.URL) []model.ScrapedItem {
	var items []model.ScrapedItem

	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		headers := tableHeaders(table)
		if len(headers) == 0 {
			return true
		}
		titleCol := findColumn(headers, titleHeaderKeywords)
		dueCol := findColumn(headers, dueHeaderKeywords)
		if titleCol < 0 || dueCol < 0 {
			return true
		}

		rows := table.Find("tbody tr")
		if rows.Length() == 0 {
			rows = table.Find("tr").Slice(1, goquery.ToEnd)
		}
		rows.Each(func(_ int, tr *goquery.Selection) {
			cells := tr.Find("td, th")
			if cells.Length() <= max(titleCol, dueCol) {
				return
			}
			anchor := cells.Eq(titleCol).Find("a[href]").First()
			if anchor.Length() == 0 {
				return
			}
			title := normalize.CollapseWhitespace(anchor.Text())
			if title == "" {
				return
			}
			href, _ := anchor.Attr("href")
			items = append(items, model.ScrapedItem{
				Kind:       model.KindAssignment,
				CourseName: courseName,
				Title:      title,
				URL:        resolveAgainst(base, href),
				DueText:    normalize.CollapseWhitespace(cells.Eq(dueCol).Text()),
			})
		})

		// First table with both columns wins; later tables on the same page
		// repeat the data in other groupings.
		return len(items) == 0
	})

	return items
}

// ParseLectures extracts video-lecture sessions from a course main page.
// The deadline of a lecture is the end of its availability window: the
// period text only yields a due when it contains a '~' separator, and the
// text after '~' is taken as the raw due.
func ParseLectures(doc *goquery.Document, courseName string, base *url.URL) []model.ScrapedItem {
	type key struct {
		title string
		url   string
	}
	merged := make(map[key]model.ScrapedItem)
	var order []key

	doc.Find("li.activity.vod.modtype_vod").Each(func(_ int, li *goquery.Selection) {
		title := normalize.CollapseWhitespace(li.Find(".activityinstance .instancename").First().Text())
		if title == "" {
			return
		}

		var link string
		if href, ok := li.Find(".activityinstance a[href]").First().Attr("href"); ok {
			link = resolveAgainst(base, href)
		}

		var due string
		period := normalize.CollapseWhitespace(li.Find(".displayoptions .text-ubstrap").First().Text())
		if _, after, found := strings.Cut(period, "~"); found {
			due = strings.TrimSpace(after)
		}

		k := key{title: title, url: link}
		existing, seen := merged[k]
		if !seen {
			order = append(order, k)
		}
		// Keep the occurrence that carries a due text.
		if !seen || (due != "" && existing.DueText == "") {
			merged[k] = model.ScrapedItem{
				Kind:       model.KindLecture,
				CourseName: courseName,
				Title:      title,
				URL:        link,
				DueText:    due,
			}
		}
	})

	items := make([]model.ScrapedItem, 0, len(order))
	for _, k := range order {
		items = append(items, merged[k])
	}
	return items
}

// tableHeaders returns the lower-cased header texts of a table, taken from
// the first thead row or, failing that, the first row of the table.
func tableHeaders(table *goquery.Selection) []string {
	cells := table.Find("thead th")
	if cells.Length() == 0 {
		first := table.Find("tr").First()
		cells = first.Find("th, td")
	}
	headers := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		headers = append(headers, strings.ToLower(normalize.CollapseWhitespace(c.Text())))
	})
	return headers
}

func findColumn(headers []string, keywords []string) int {
	for i, h := range headers {
		for _, kw := range keywords {
			if strings.Contains(h, kw) {
				return i
			}
		}
	}
	return -1
}

func resolveAgainst(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
