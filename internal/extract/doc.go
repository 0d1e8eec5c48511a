// Package extract implements the two page protocols run against the maps
// site: reading a contributor's latest review and reading a contributor's
// display name. Selectors and page flow follow the site's current markup and
// are expected to break when it changes; all of them live in selectors.go.
package extract
