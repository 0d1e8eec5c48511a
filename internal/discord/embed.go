package discord

import (
	"time"

	"github.com/JakeFAU/review-notifier/internal/tracker"
)

const embedColor = 0xFBBC04

type webhookPayload struct {
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Color       int          `json:"color,omitempty"`
	Author      *embedAuthor `json:"author,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
}

type embedAuthor struct {
	Name string `json:"name"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

func toEmbed(msg tracker.Message) embed {
	e := embed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       embedColor,
	}
	if !msg.Timestamp.IsZero() {
		e.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	if msg.Author != "" {
		e.Author = &embedAuthor{Name: msg.Author}
	}
	if msg.Stars != "" {
		e.Fields = []embedField{{Name: "Stars", Value: msg.Stars, Inline: true}}
	}
	if msg.Footer != "" {
		e.Footer = &embedFooter{Text: msg.Footer}
	}
	return e
}
