// Package parser turns raw feed bytes into normalized articles using the
// gofeed library. Malformed input fails cleanly with a FeedParserError; a
// successful parse never returns partial results.
package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
)

// FeedParserError indicates the feed body was malformed or in an
// unrecognized format. The remote content itself is invalid, so callers must
// not retry sooner than the next scheduled cycle.
type FeedParserError struct {
	Err error
}

func (e *FeedParserError) Error() string {
	return fmt.Sprintf("feed parse failed: %v", e.Err)
}

func (e *FeedParserError) Unwrap() error {
	return e.Err
}

// Parser parses RSS, Atom and JSON feeds. The zero value is not usable; use
// New.
type Parser struct {
	fp *gofeed.Parser
}

// New creates a feed parser.
func New() *Parser {
	return &Parser{fp: gofeed.NewParser()}
}

// Parse converts raw feed bytes into articles. Two parses of byte-identical
// input yield identical article identities.
func (p *Parser) Parse(rawBody []byte) ([]*entity.Article, error) {
	feed, err := p.fp.Parse(bytes.NewReader(rawBody))
	if err != nil {
		return nil, &FeedParserError{Err: err}
	}

	articles := make([]*entity.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		articles = append(articles, normalizeItem(item))
	}
	return articles, nil
}

// FeedTitle extracts only the feed-level title, used when registering a new
// source.
func (p *Parser) FeedTitle(rawBody []byte) (string, error) {
	feed, err := p.fp.Parse(bytes.NewReader(rawBody))
	if err != nil {
		return "", &FeedParserError{Err: err}
	}
	return feed.Title, nil
}

func normalizeItem(item *gofeed.Item) *entity.Article {
	published := time.Time{}
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	description := item.Description
	if description == "" {
		description = item.Content
	}
	plainDescription := stripHTML(description)

	author := ""
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}

	raw := map[string]string{
		"title":       item.Title,
		"description": plainDescription,
		"link":        item.Link,
		"author":      author,
	}
	if !published.IsZero() {
		raw["date"] = published.UTC().Format(time.RFC1123)
	}
	for _, cat := range item.Categories {
		if raw["tags"] == "" {
			raw["tags"] = cat
		} else {
			raw["tags"] += ", " + cat
		}
	}

	return &entity.Article{
		ID:          articleID(item, published),
		Title:       item.Title,
		Description: plainDescription,
		Link:        item.Link,
		PublishedAt: published,
		Raw:         raw,
	}
}

// articleID derives the stable identity for duplicate suppression: the
// feed-native GUID when present, otherwise a hash over the normalized
// title, link and publish timestamp.
func articleID(item *gofeed.Item, published time.Time) string {
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}

	normalized := strings.ToLower(strings.TrimSpace(item.Title)) + "|" +
		strings.TrimSpace(item.Link) + "|" +
		published.UTC().Format(time.RFC3339)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// stripHTML reduces an HTML fragment to whitespace-collapsed plain text for
// use in delivery placeholders. Unparseable fragments fall back to the input.
func stripHTML(fragment string) string {
	if fragment == "" || !strings.ContainsAny(fragment, "<&") {
		return strings.TrimSpace(fragment)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
