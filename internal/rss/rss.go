// Package rss renders completed summaries as an RSS 2.0 document so the
// digest can be followed from any feed reader.
package rss

import "encoding/xml"

// RSS is the root element of an RSS feed.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel Channel  `xml:"channel"`
}

// Channel represents the channel element in an RSS feed.
type Channel struct {
	XMLName       xml.Name `xml:"channel"`
	Title         string   `xml:"title"`
	Link          string   `xml:"link"`
	Description   string   `xml:"description"`
	Language      string   `xml:"language,omitempty"`
	LastBuildDate string   `xml:"lastBuildDate,omitempty"` // Should be in RFC1123Z format
	Items         []Item   `xml:"item"`
}

// Item represents an item element in an RSS feed.
type Item struct {
	XMLName     xml.Name `xml:"item"`
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description,omitempty"`
	PubDate     string   `xml:"pubDate,omitempty"` // Should be in RFC1123Z format
	GUID        string   `xml:"guid,omitempty"`
}

// New assembles a feed document around the given items. The channel build
// date follows the newest item.
func New(title, link, description string, items []Item) RSS {
	var lastBuild string
	if len(items) > 0 {
		lastBuild = items[0].PubDate
	}
	return RSS{
		Version: "2.0",
		Channel: Channel{
			Title:         title,
			Link:          link,
			Description:   description,
			Language:      "en-us",
			LastBuildDate: lastBuild,
			Items:         items,
		},
	}
}
