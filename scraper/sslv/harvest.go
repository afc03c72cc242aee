// Package sslv scrapes flat-for-sale listings from ss.lv: it harvests listing
// links from search-results pages and assembles one record per listing page.
package sslv

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HarvestLinks collects listing URLs from a search-results page. Every href
// containing marker is resolved against origin; the result is deduplicated in
// first-seen order.
func HarvestLinks(doc *goquery.Document, origin, marker string) []string {
	var links []string
	seen := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || !strings.Contains(href, marker) {
			return
		}

		link := resolve(origin, href)
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// resolve makes href absolute. ss.lv links are root-relative ("/msg/...").
func resolve(origin, href string) string {
	switch {
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "//"):
		scheme, _, _ := strings.Cut(origin, "//")
		return scheme + href
	case strings.HasPrefix(href, "/"):
		return strings.TrimSuffix(origin, "/") + href
	default:
		return strings.TrimSuffix(origin, "/") + "/" + href
	}
}
