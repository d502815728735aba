// Package socialcheck scrapes public profile pages for the social onboarding steps.
package socialcheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrProfileNotFound = errors.New("profile not found")
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Profile struct {
	Username  string    `json:"username"`
	Name      string    `json:"name,omitempty"`
	Followers *int      `json:"followers,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

type Checker struct {
	httpClient   *http.Client
	log          *zap.Logger
	maxRetries   int
	instagramURL string
}

func NewChecker(timeout time.Duration, maxRetries int, log *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
		maxRetries:   maxRetries,
		instagramURL: "https://www.instagram.com",
	}
}

var instagramUsernameRE = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)

// NormalizeInstagramUsername strips a leading @ or profile URL.
func NormalizeInstagramUsername(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	for _, p := range []string{"https://www.instagram.com/", "https://instagram.com/", "www.instagram.com/", "instagram.com/"} {
		s = strings.TrimPrefix(s, p)
	}
	s = strings.Trim(s, "/")
	if !instagramUsernameRE.MatchString(s) {
		return "", ErrInvalidUsername
	}
	return strings.ToLower(s), nil
}

// InstagramProfile checks that the username resolves to a public profile page.
func (c *Checker) InstagramProfile(ctx context.Context, username string) (*Profile, error) {
	username, err := NormalizeInstagramUsername(username)
	if err != nil {
		return nil, err
	}

	doc, err := c.fetch(ctx, fmt.Sprintf("%s/%s/", c.instagramURL, username))
	if err != nil {
		return nil, err
	}

	title, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	desc, _ := doc.Find(`meta[property="og:description"]`).Attr("content")
	if strings.TrimSpace(title) == "" {
		return nil, ErrProfileNotFound
	}

	p := &Profile{Username: username, FetchedAt: time.Now()}
	// og:title: "Name (@username) • Instagram photos and videos"
	if i := strings.Index(title, "(@"); i > 0 {
		p.Name = strings.TrimSpace(title[:i])
	}
	// og:description: "1.2K Followers, 10 Following, 35 Posts - ..."
	if i := strings.Index(strings.ToLower(desc), "followers"); i > 0 {
		if n := parseCount(desc[:i]); n > 0 {
			p.Followers = &n
		}
	}
	return p, nil
}

func (c *Checker) fetch(ctx context.Context, url string) (*goquery.Document, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, ErrProfileNotFound
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
			continue
		}

		doc, err := goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return doc, nil
	}
	c.log.Debug("profile fetch failed", zap.String("url", url), zap.Error(lastErr))
	return nil, lastErr
}

var countRE = regexp.MustCompile(`[\d,.]+[KkMm]?`)

func parseCount(text string) int {
	text = strings.ReplaceAll(text, " ", "")
	text = strings.ReplaceAll(text, ",", "")

	match := countRE.FindString(text)
	if match == "" {
		return 0
	}

	multiplier := 1
	if strings.HasSuffix(match, "K") || strings.HasSuffix(match, "k") {
		multiplier = 1000
		match = match[:len(match)-1]
	} else if strings.HasSuffix(match, "M") || strings.HasSuffix(match, "m") {
		multiplier = 1000000
		match = match[:len(match)-1]
	}

	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return int(f * float64(multiplier))
}
