package extract

import (
	"net/url"
	"strings"
)

// PlaceNameFromURL parses the place slug between "/place/" and the following
// "/@", percent-decodes it and turns "+" into spaces. It returns UnknownPlace
// when the URL does not carry a parsable slug.
func PlaceNameFromURL(rawURL string) string {
	m := placeSlugPattern.FindStringSubmatch(rawURL)
	if len(m) < 2 || m[1] == "" {
		return UnknownPlace
	}
	name, err := url.PathUnescape(m[1])
	if err != nil {
		return UnknownPlace
	}
	return strings.ReplaceAll(name, "+", " ")
}
