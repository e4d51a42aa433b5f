// internal/lms/scraper.go
package lms

import (
	"context"

	"lms-deadline-tracker/internal/model"
)

// Scraper is one full authenticated pass over the LMS: login, enumerate
// courses, and return every assignment and lecture deadline found. The job
// manager depends only on this interface, so an out-of-process scraper can
// be substituted without touching the import pipeline.
type Scraper interface {
	Scrape(ctx context.Context, creds *Credentials) ([]model.ScrapedItem, error)
}

// Credentials is a scoped secret handle for one scrape call. The caller
// wipes it when the call returns, so raw passwords never outlive the job
// that used them.
type Credentials struct {
	username []byte
	password []byte
}

func NewCredentials(username, password string) *Credentials {
	return &Credentials{
		username: []byte(username),
		password: []byte(password),
	}
}

func (c *Credentials) Username() string { return string(c.username) }
func (c *Credentials) Password() string { return string(c.password) }

// Empty reports whether either field is missing.
func (c *Credentials) Empty() bool {
	return c == nil || len(c.username) == 0 || len(c.password) == 0
}

// Wipe zeroes the underlying buffers. Safe to call more than once.
func (c *Credentials) Wipe() {
	if c == nil {
		return
	}
	for i := range c.username {
		c.username[i] = 0
	}
	for i := range c.password {
		c.password[i] = 0
	}
	c.username = nil
	c.password = nil
}
