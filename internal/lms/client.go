// internal/lms/client.go
package lms

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	custom_errors "lms-deadline-tracker/internal/errors"
	"lms-deadline-tracker/internal/model"
	"lms-deadline-tracker/internal/normalize"
)

const (
	requestTimeout = 30 * time.Second
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	// Number of courses scraped in parallel within one job. Result ordering
	// is not relied upon anywhere downstream.
	courseConcurrency = 3
)

// CourseRef points at one course landing page discovered on the dashboard.
type CourseRef struct {
	ID   string
	Name string
	URL  string
}

// Client is an in-process Scraper speaking the LMS's cookie-session HTML
// protocol: login handshake with an anti-forgery token, cookie propagation,
// then per-course page retrieval.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a Client rooted at baseURL (e.g. "https://learn.example.ac.kr/").
func NewClient(baseURL string, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LMS base URL: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		base: base,
		http: &http.Client{
			Timeout: requestTimeout,
			Jar:     jar,
		},
		logger: logger,
	}, nil
}

var _ Scraper = (*Client)(nil)

// Scrape logs in and walks every course, collecting assignment rows from the
// per-course assignment index and lecture sessions from the course main page.
// A single failing course page is logged and skipped; only login or dashboard
// failures abort the whole pass.
func (c *Client) Scrape(ctx context.Context, creds *Credentials) ([]model.ScrapedItem, error) {
	if creds.Empty() {
		return nil, &custom_errors.AuthenticationError{Reason: "missing username or password"}
	}

	if err := c.login(ctx, creds); err != nil {
		return nil, err
	}

	courses, err := c.Courses(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Enumerated courses", "count", len(courses))

	var (
		mu    sync.Mutex
		items []model.ScrapedItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(courseConcurrency)

	for _, course := range courses {
		course := course
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			found := c.scrapeCourse(gctx, course)
			mu.Lock()
			items = append(items, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// scrapeCourse collects both item kinds for one course. Failures here mean
// the course contributes nothing; they never fail the job.
func (c *Client) scrapeCourse(ctx context.Context, course CourseRef) []model.ScrapedItem {
	logger := c.logger.With("course", course.Name)
	var items []model.ScrapedItem

	if course.ID != "" {
		indexURL := c.resolve("mod/assign/index.php?id=" + url.QueryEscape(course.ID))
		doc, err := c.get(ctx, indexURL)
		if err != nil {
			logger.Warn("Assignment index unavailable", "error", err)
		} else {
			assigns := ParseAssignments(doc, course.Name, c.base)
			if len(assigns) == 0 {
				logger.Debug("Assignment index yielded nothing",
					"error", &custom_errors.ParseAnomaly{Page: indexURL, Reason: "no table with title and due columns"})
			}
			items = append(items, assigns...)
		}
	}

	doc, err := c.get(ctx, course.URL)
	if err != nil {
		logger.Warn("Course page unavailable", "error", err)
		return items
	}
	items = append(items, ParseLectures(doc, course.Name, c.base)...)
	return items
}

// login performs the handshake: GET the login page, lift the one-time
// logintoken if present, POST the credential form. Session cookies ride in
// the client's jar from then on.
func (c *Client) login(ctx context.Context, creds *Credentials) error {
	loginURL := c.resolve("login/index.php")

	form := url.Values{}
	form.Set("username", creds.Username())
	form.Set("password", creds.Password())

	doc, err := c.get(ctx, loginURL)
	if err != nil {
		return err
	}
	if token, ok := doc.Find("input[name=logintoken]").Attr("value"); ok && token != "" {
		form.Set("logintoken", token)
	}

	if _, err := c.post(ctx, loginURL, form); err != nil {
		return err
	}
	return nil
}

// Courses scans the authenticated dashboard for the repeating course-card
// structure. An authenticated dashboard always carries at least one card;
// none at all means the login was rejected.
func (c *Client) Courses(ctx context.Context) ([]CourseRef, error) {
	doc, err := c.get(ctx, c.base.String())
	if err != nil {
		return nil, err
	}

	var courses []CourseRef
	doc.Find("div.course_lists ul.my-course-lists > li").Each(func(_ int, li *goquery.Selection) {
		link := li.Find("div.course_box a.course_link").First()
		if link.Length() == 0 {
			link = li.Find("a.course_link").First()
		}
		href, ok := link.Attr("href")
		if !ok || href == "" {
			return
		}

		name := normalize.CollapseWhitespace(li.Find("div.course-title h3").First().Text())
		if name == "" {
			name = normalize.CollapseWhitespace(link.Text())
		}

		abs := c.resolve(href)
		courses = append(courses, CourseRef{
			ID:   queryParam(abs, "id"),
			Name: name,
			URL:  abs,
		})
	})

	if len(courses) == 0 {
		return nil, &custom_errors.AuthenticationError{Reason: "dashboard has no course cards"}
	}
	return courses, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &custom_errors.TransportError{URL: rawURL, Err: err}
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, rawURL string, form url.Values) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &custom_errors.TransportError{URL: rawURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*goquery.Document, error) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &custom_errors.TransportError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &custom_errors.TransportError{
			URL: req.URL.String(),
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &custom_errors.TransportError{URL: req.URL.String(), Err: err}
	}
	return doc, nil
}

// resolve turns a possibly relative href into an absolute URL on the LMS host.
func (c *Client) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return c.base.ResolveReference(ref).String()
}

func queryParam(rawURL, key string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}
