package collect

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"linkrescue/internal/models"
	"linkrescue/internal/urlutil"
)

const maxTextLen = 120

// Occurrence is one element on the page that points at a link target.
type Occurrence struct {
	// Index is the element's position among all collected links.
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Text  string `json:"text,omitempty"`
}

// Links tokenizes an HTML document and returns the external http(s) links
// of a[href] and area[href] elements. Relative references resolve against
// base, or against the document's <base href> when present. Links to the
// page's own origin and to the web archive are skipped.
func Links(body io.Reader, base *url.URL) ([]models.LinkTarget, error) {
	origin := base
	var (
		out   []models.LinkTarget
		index = map[string]int{}
		count int
		// open anchor collecting its text, -1 when none
		openTarget = -1
		openOcc    = -1
		text       strings.Builder
		baseSeen   bool
	)

	closeAnchor := func() {
		if openTarget >= 0 {
			occ := out[openTarget].Occurrences[openOcc].(Occurrence)
			occ.Text = clean(text.String())
			out[openTarget].Occurrences[openOcc] = occ
		}
		openTarget, openOcc = -1, -1
		text.Reset()
	}

	add := func(href, tag, label string) {
		target, ok := external(href, base, origin)
		if !ok {
			return
		}
		occ := Occurrence{Index: count, Tag: tag, Text: clean(label)}
		count++
		i, seen := index[target]
		if !seen {
			i = len(out)
			index[target] = i
			out = append(out, models.LinkTarget{URL: target})
		}
		out[i].Occurrences = append(out[i].Occurrences, occ)
		if tag == "a" {
			openTarget, openOcc = i, len(out[i].Occurrences)-1
		}
	}

	z := html.NewTokenizer(body)
	for {
		switch z.Next() {
		case html.ErrorToken:
			closeAnchor()
			if err := z.Err(); err != io.EOF {
				return out, err
			}
			return out, nil

		case html.TextToken:
			if openTarget >= 0 && text.Len() < 4*maxTextLen {
				text.Write(z.Text())
			}

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "a" {
				closeAnchor()
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "base":
				if href, ok := attr(tok, "href"); ok && !baseSeen {
					baseSeen = true
					if u, err := base.Parse(strings.TrimSpace(href)); err == nil {
						base = u
					}
				}
			case "a":
				// an unclosed <a> ends at the next one
				closeAnchor()
				if href, ok := attr(tok, "href"); ok {
					add(href, "a", "")
				}
			case "area":
				if href, ok := attr(tok, "href"); ok {
					alt, _ := attr(tok, "alt")
					add(href, "area", alt)
				}
			case "img":
				if openTarget >= 0 && text.Len() == 0 {
					if alt, ok := attr(tok, "alt"); ok {
						text.WriteString(alt)
					}
				}
			}
		}
	}
}

// external resolves href and reports whether it is a checkable link.
func external(href string, base, origin *url.URL) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if urlutil.SameOrigin(u, origin) || urlutil.IsArchiveHost(u.Hostname()) {
		return "", false
	}
	canonical, err := urlutil.Canonicalize(u.String())
	if err != nil {
		return "", false
	}
	return canonical, true
}

func attr(tok html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func clean(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxTextLen {
		s = string(r[:maxTextLen])
	}
	return s
}
