// Package parser extracts animal records and image references from HTML.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/wiki-animals-harvester/models"
)

var (
	// ErrTableNotFound is returned when the listing has no animals table.
	ErrTableNotFound = errors.New("parser: animals table not found")
	// ErrMalformedHeaders is returned when required table headers are missing.
	ErrMalformedHeaders = errors.New("parser: malformed table headers")
	// ErrImageNotFound is returned when a detail page has no image reference.
	ErrImageNotFound = errors.New("parser: image url not found")
	// ErrInvalidRecord is returned by ValidateRecord.
	ErrInvalidRecord = errors.New("parser: invalid record")
)

// ListingParser turns a listing page into a lazy sequence of records.
type ListingParser interface {
	ParseListing(content []byte, resourceURL string) (iter.Seq[models.AnimalRecord], error)
}

// DetailParser extracts the image URL from a record's detail page.
type DetailParser interface {
	ExtractImageURL(content []byte, pageURL string) (string, error)
}

// document pairs a parsed page with the URL it was fetched from so relative
// links can be resolved.
type document struct {
	doc  *goquery.Document
	base *url.URL
}

func newDocument(content []byte, resourceURL string) (*document, error) {
	base, err := url.Parse(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("parse resource url %q: %w", resourceURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", resourceURL, err)
	}
	return &document{doc: doc, base: base}, nil
}

// resolve returns link as an absolute URL relative to the document.
func (d *document) resolve(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", fmt.Errorf("empty link")
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", link, err)
	}
	return d.base.ResolveReference(ref).String(), nil
}

// ValidateRecord reports whether a record can be enumerated: it needs a
// name, a detail page link, and at least one label.
func ValidateRecord(r models.AnimalRecord) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRecord)
	}
	if strings.TrimSpace(r.DetailPageURL) == "" {
		return fmt.Errorf("%w: missing detail page for %s", ErrInvalidRecord, r.Name)
	}
	if len(r.Labels) == 0 {
		return fmt.Errorf("%w: no labels for %s", ErrInvalidRecord, r.Name)
	}
	return nil
}
