package tracker

// Differs reports whether a freshly extracted review is a different review from
// the cached one. Any single field differing counts: place name, star rating or
// body (original text when present, translated text otherwise).
func Differs(cached Review, fresh CandidateReview) bool {
	return cached.PlaceName != fresh.PlaceName ||
		cached.StarRating != fresh.StarRating ||
		cached.Body() != fresh.Body()
}
