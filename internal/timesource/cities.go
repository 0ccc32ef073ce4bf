package timesource

import "strings"

// Location is one selectable governorate. Key is the English name sent to
// the aladhan API and stored on the subscriber record.
type Location struct {
	Key    string
	Arabic string
	Lat    float64
	Lon    float64
}

var catalogue = []Location{
	{Key: "Damascus", Arabic: "دمشق", Lat: 33.5138, Lon: 36.2765},
	{Key: "Aleppo", Arabic: "حلب", Lat: 36.2021, Lon: 37.1343},
	{Key: "Homs", Arabic: "حمص", Lat: 34.7324, Lon: 36.7137},
	{Key: "Hama", Arabic: "حماة", Lat: 35.1318, Lon: 36.7578},
	{Key: "Latakia", Arabic: "اللاذقية", Lat: 35.5317, Lon: 35.7901},
	{Key: "Tartus", Arabic: "طرطوس", Lat: 34.8890, Lon: 35.8866},
	{Key: "Deir Ez-Zor", Arabic: "دير الزور", Lat: 35.3359, Lon: 40.1408},
	{Key: "Raqqa", Arabic: "الرقة", Lat: 35.9594, Lon: 39.0078},
	{Key: "Al-Hasakah", Arabic: "الحسكة", Lat: 36.5024, Lon: 40.7477},
	{Key: "Daraa", Arabic: "درعا", Lat: 32.6189, Lon: 36.1021},
	{Key: "As-Suwayda", Arabic: "السويداء", Lat: 32.7090, Lon: 36.5695},
	{Key: "Quneitra", Arabic: "القنيطرة", Lat: 33.1258, Lon: 35.8245},
	{Key: "Idlib", Arabic: "إدلب", Lat: 35.9306, Lon: 36.6339},
	{Key: "Rif Dimashq", Arabic: "ريف دمشق", Lat: 33.5167, Lon: 36.9500},
}

// Locations returns the catalogue in display order.
func Locations() []Location {
	out := make([]Location, len(catalogue))
	copy(out, catalogue)
	return out
}

// LookupLocation finds a location by English key (case-insensitive) or
// Arabic name.
func LookupLocation(name string) (Location, bool) {
	name = strings.TrimSpace(name)
	for _, l := range catalogue {
		if strings.EqualFold(l.Key, name) || l.Arabic == name {
			return l, true
		}
	}
	return Location{}, false
}

// DisplayName returns the Arabic name for key, or key itself when unknown.
func DisplayName(key string) string {
	if l, ok := LookupLocation(key); ok {
		return l.Arabic
	}
	return key
}
