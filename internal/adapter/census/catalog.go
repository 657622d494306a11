package census

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/couchcryptid/census-population-etl/internal/domain"
)

var errNoVariables = errors.New("no catalog variables for concept")

// FetchLabels scrapes the variable catalog page and returns the variables
// whose concept column matches concept (case-insensitive).
func (c *Client) FetchLabels(ctx context.Context, concept string) (domain.LabelMap, error) {
	body, status, err := c.get(ctx, "catalog", concept, c.variablesURL, nil)
	if err != nil {
		return nil, err
	}
	labels, err := parseCatalog(body, concept)
	if err != nil {
		return nil, &domain.FetchError{Op: "catalog", Target: concept, Status: status, Err: err}
	}
	c.logger.Info("variable catalog loaded", "concept", concept, "variables", len(labels))
	return labels, nil
}

// parseCatalog reads the first table of the catalog page. Columns are
// name, label, concept, followed by columns this parser ignores.
func parseCatalog(body []byte, concept string) (domain.LabelMap, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}
	table := findFirst(doc, atom.Table)
	if table == nil {
		return nil, fmt.Errorf("%w: catalog page has no table", domain.ErrMalformedResponse)
	}

	labels := make(domain.LabelMap)
	for _, row := range findAll(table, atom.Tr) {
		var cells []string
		for td := row.FirstChild; td != nil; td = td.NextSibling {
			if td.Type == html.ElementNode && td.DataAtom == atom.Td {
				cells = append(cells, strings.TrimSpace(textContent(td)))
			}
		}
		if len(cells) < 3 {
			continue
		}
		if strings.EqualFold(cells[2], concept) {
			labels[cells[0]] = cells[1]
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: %w %q", domain.ErrMalformedResponse, errNoVariables, concept)
	}
	return labels, nil
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
