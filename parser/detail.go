package parser

import (
	"fmt"
	"strings"
)

// WikiDetailParser reads the Open Graph image of a Wikipedia article.
type WikiDetailParser struct{}

// ExtractImageURL returns the absolute og:image URL of the page.
func (WikiDetailParser) ExtractImageURL(content []byte, pageURL string) (string, error) {
	d, err := newDocument(content, pageURL)
	if err != nil {
		return "", err
	}

	ref, ok := d.doc.Find(`meta[property="og:image"]`).First().Attr("content")
	if !ok || strings.TrimSpace(ref) == "" {
		return "", fmt.Errorf("%w at %s", ErrImageNotFound, pageURL)
	}

	imageURL, err := d.resolve(ref)
	if err != nil {
		return "", fmt.Errorf("%w at %s: %w", ErrImageNotFound, pageURL, err)
	}
	return imageURL, nil
}
