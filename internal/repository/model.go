package repository

import (
	"encoding/json"
	"reflect"
)

// Metadata holds versioning info for optimistic locking.
type Metadata struct {
	LastUpdate int64 `json:"lastUpdate"` // Unix timestamp in milliseconds
}

// DataDocument represents the persisted JSON structure of the foreground.
type DataDocument struct {
	Metadata  Metadata         `json:"metadata"`
	Movies    []Movie          `json:"movies" validate:"dive"`
	Progress  map[int]float64  `json:"progress" validate:"dive,gte=0,lte=100"`
	Downloads []DownloadRecord `json:"downloads" validate:"dive"`
	Settings  Settings         `json:"settings"`
}

// Quality is a download quality tier.
type Quality string

const (
	QualityGood   Quality = "Good"
	QualityBetter Quality = "Better"
	QualityBest   Quality = "Best"
)

// Qualities lists the tiers from smallest to largest.
var Qualities = []Quality{QualityGood, QualityBetter, QualityBest}

// Valid reports whether q is one of the known tiers.
func (q Quality) Valid() bool {
	switch q {
	case QualityGood, QualityBetter, QualityBest:
		return true
	}
	return false
}

// Rendition is the video rendition backing the tier.
func (q Quality) Rendition() string {
	switch q {
	case QualityGood:
		return "480p"
	case QualityBest:
		return "1080p"
	default:
		return "720p"
	}
}

// Movie is one title of the catalog.
type Movie struct {
	ID          int     `json:"id" validate:"required,gt=0"`
	Title       string  `json:"title" validate:"required"`
	Year        int     `json:"year"`
	PosterURL   string  `json:"posterUrl" validate:"omitempty,url"`
	BackdropURL string  `json:"backdropUrl" validate:"omitempty,url"`
	BaseSizeGB  float64 `json:"baseSize" validate:"gte=0"`

	// VideoURLs maps a rendition ("480p", "720p", "1080p") to its video URL.
	VideoURLs map[string]string `json:"videoUrls" validate:"dive,keys,oneof=480p 720p 1080p,endkeys,url"`
}

// DownloadRecord marks a title as available offline.
type DownloadRecord struct {
	MovieID   int     `json:"movieId" validate:"required,gt=0"`
	Quality   Quality `json:"quality" validate:"required,oneof=Good Better Best"`
	SizeGB    float64 `json:"sizeGb" validate:"gte=0"`
	VideoURL  string  `json:"videoUrl" validate:"omitempty,url"`
	CreatedAt int64   `json:"createdAt"`
}

// Settings are the user's download preferences.
type Settings struct {
	Quality    Quality `json:"quality" validate:"required,oneof=Good Better Best"`
	AutoDelete bool    `json:"autoDelete"`
}

// ApplyDefaults sets fallback values after decode.
func (d *DataDocument) ApplyDefaults() {
	if d.Movies == nil {
		d.Movies = []Movie{}
	}
	for mi := range d.Movies {
		if d.Movies[mi].VideoURLs == nil {
			d.Movies[mi].VideoURLs = map[string]string{}
		}
	}
	if d.Progress == nil {
		d.Progress = map[int]float64{}
	}
	if d.Downloads == nil {
		d.Downloads = []DownloadRecord{}
	}
	if d.Settings.Quality == "" {
		d.Settings.Quality = QualityBetter
	}
}

// FindMovie returns the movie with the given id.
func (d *DataDocument) FindMovie(id int) (Movie, bool) {
	for _, m := range d.Movies {
		if m.ID == id {
			return m, true
		}
	}
	return Movie{}, false
}

// AreDataDocumentsEqual compares two DataDocuments ignoring Metadata.
// Uses JSON serialization for flexible comparison (order-independent for object keys).
func AreDataDocumentsEqual(a, b *DataDocument) bool {
	if a == nil || b == nil {
		return a == b
	}

	aBytes, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bBytes, err := json.Marshal(b)
	if err != nil {
		return false
	}

	var aMap, bMap map[string]interface{}
	if err := json.Unmarshal(aBytes, &aMap); err != nil {
		return false
	}
	if err := json.Unmarshal(bBytes, &bMap); err != nil {
		return false
	}

	delete(aMap, "metadata")
	delete(bMap, "metadata")

	return reflect.DeepEqual(aMap, bMap)
}
