package extract

import "regexp"

const (
	reviewListURLTemplate = "https://www.google.com/maps/contrib/%s/reviews?hl=en"

	reviewListMarker  = "reviews/@"
	profileListMarker = "/reviews/@"

	reviewFeedXPath     = `//div[@role="main"]//div[contains(@class, "m6QErb") and @tabindex="-1"]`
	firstReviewXPath    = `//div[contains(@lang, "en")]`
	reviewTextXPath     = `//div[contains(@lang, "en")]/span`
	showOriginalXPath   = `//button[contains(@role, "switch")]/span[contains(text(), "original")]`
	originalTextXPath   = `//button[contains(@role, "switch")]/span[contains(text(), "translation")]/../../..//div[@lang]/span`
	starGlyphXPath      = `//span[contains(@aria-label, " star")]/span[contains(@class, "google-symbols")]`
	placeHeaderXPath    = `//div[contains(@jsaction, "placeNameHeader")]`
	profileNameSelector = `h1.fontHeadlineLarge[role='button'][tabindex='0'][aria-haspopup='true']`

	// NoTextSentinel replaces review text that could not be read.
	NoTextSentinel = "Review doesn't contain text"
	// UnknownPlace replaces a place name that could not be parsed.
	UnknownPlace = "Unknown Place"
)

var (
	singleReviewURLPattern = regexp.MustCompile(`/place/[a-zA-Z0-9_-]+/@.*`)
	placeDetailURLPattern  = regexp.MustCompile(`maps/place/.+/@.*`)
	placeSlugPattern       = regexp.MustCompile(`/place/([^/]+)/@`)
)
