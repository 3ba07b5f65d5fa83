package parser

import (
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aluiziolira/wiki-animals-harvester/models"
)

const (
	// HeaderAnimal is the column holding the animal link.
	HeaderAnimal = "Animal"
	// HeaderCollateralAdjective is the column holding the labels.
	HeaderCollateralAdjective = "Collateral adjective"

	anchorSelector = "span#Terms_by_species_or_taxon"
	tableSelector  = "table.wikitable.sortable"
)

// MissingHeadersError lists the required headers absent from the table.
type MissingHeadersError struct {
	Missing []string
}

func (e *MissingHeadersError) Error() string {
	return fmt.Sprintf("table headers missing: %s", strings.Join(e.Missing, ","))
}

func (e *MissingHeadersError) Is(target error) bool {
	return target == ErrMalformedHeaders
}

// WikiListingParser reads the "Terms by species or taxon" table of the
// Wikipedia list of animal names.
type WikiListingParser struct{}

// ParseListing locates the animals table and returns its rows lazily. Table
// lookup and header validation happen eagerly so structural problems surface
// before any record is consumed.
func (WikiListingParser) ParseListing(content []byte, resourceURL string) (iter.Seq[models.AnimalRecord], error) {
	d, err := newDocument(content, resourceURL)
	if err != nil {
		return nil, err
	}

	table := d.animalsTable()
	if table == nil {
		return nil, fmt.Errorf("%w at %s", ErrTableNotFound, resourceURL)
	}

	headers := tableHeaders(table)
	if err := validateHeaders(headers); err != nil {
		return nil, err
	}

	rows := table.Find("tr")
	return func(yield func(models.AnimalRecord) bool) {
		for i := 1; i < rows.Length(); i++ {
			record, ok := d.parseRow(rows.Eq(i), headers)
			if !ok {
				continue
			}
			if !yield(record) {
				return
			}
		}
	}, nil
}

// animalsTable returns the first sortable wikitable following the anchor span
// in document order.
func (d *document) animalsTable() *goquery.Selection {
	var (
		table      *goquery.Selection
		seenAnchor bool
	)
	d.doc.Find(anchorSelector + ", " + tableSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Is(anchorSelector) {
			seenAnchor = true
			return true
		}
		if seenAnchor {
			table = s
			return false
		}
		return true
	})
	return table
}

func tableHeaders(table *goquery.Selection) map[string]int {
	headers := make(map[string]int)
	table.Find("tr").First().Find("th").Each(func(i int, th *goquery.Selection) {
		headers[strings.TrimSpace(th.Text())] = i
	})
	return headers
}

func validateHeaders(headers map[string]int) error {
	var missing []string
	for _, required := range []string{HeaderAnimal, HeaderCollateralAdjective} {
		if _, ok := headers[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return &MissingHeadersError{Missing: missing}
	}
	return nil
}

// parseRow maps a row's cells by header position. Rows whose cell count does
// not match the header count (section breaks, merged cells) are skipped.
func (d *document) parseRow(row *goquery.Selection, headers map[string]int) (models.AnimalRecord, bool) {
	cells := row.ChildrenFiltered("td")
	if cells.Length() != len(headers) {
		return models.AnimalRecord{}, false
	}

	animalCell := cells.Eq(headers[HeaderAnimal])
	record := models.AnimalRecord{
		Labels: extractLabels(cells.Eq(headers[HeaderCollateralAdjective])),
	}

	link := animalCell.Find("a").First()
	href, hasHref := link.Attr("href")
	title, hasTitle := link.Attr("title")
	if link.Length() == 0 || !hasHref || !hasTitle {
		slog.Debug("animal cell without link", slog.String("cell", strings.TrimSpace(animalCell.Text())))
		return record, true
	}

	pageURL, err := d.resolve(href)
	if err != nil {
		slog.Debug("unresolvable animal link", slog.String("href", href), slog.Any("error", err))
		return record, true
	}
	record.Name = strings.TrimSpace(title)
	record.DetailPageURL = pageURL
	return record, true
}

// extractLabels splits the cell's text nodes on commas after dropping
// reference superscripts. An em dash or an empty cell means no labels.
func extractLabels(cell *goquery.Selection) []string {
	cell.Find("sup").Remove()

	var parts []string
	for _, n := range cell.Nodes {
		collectText(n, &parts)
	}

	var labels []string
	for _, part := range strings.Split(strings.Join(parts, ","), ",") {
		label := strings.TrimSpace(part)
		if label == "" || label == "—" {
			continue
		}
		labels = append(labels, label)
	}
	return labels
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		*parts = append(*parts, n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}
