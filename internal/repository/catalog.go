package repository

import "fmt"

// sampleMovie builds a catalog entry whose art lives on the image host and
// whose renditions live on the video CDN.
func sampleMovie(id int, slug, title string, year int, baseSize float64) Movie {
	videos := map[string]string{}
	for _, q := range Qualities {
		r := q.Rendition()
		videos[r] = fmt.Sprintf("https://media.reel.example/videos/%s/%s.mp4", slug, r)
	}
	return Movie{
		ID:          id,
		Title:       title,
		Year:        year,
		PosterURL:   fmt.Sprintf("https://picsum.photos/seed/%s/400/225", slug),
		BackdropURL: fmt.Sprintf("https://picsum.photos/seed/%s-backdrop/800/450", slug),
		BaseSizeGB:  baseSize,
		VideoURLs:   videos,
	}
}

// DefaultDocument is the document used when no data file exists yet: the
// sample catalog, its continue-watching progress and no downloads.
func DefaultDocument() DataDocument {
	doc := DataDocument{
		Movies: []Movie{
			sampleMovie(1, "idea", "The Idea of You", 2024, 2.1),
			sampleMovie(2, "roadhouse", "Road House", 2024, 2.3),
			sampleMovie(3, "fallout", "Fallout", 2024, 0),
			sampleMovie(8, "reacher", "Reacher", 2022, 1.6),
			sampleMovie(9, "office", "The Office", 2005, 0.9),
			sampleMovie(10, "oppenheimer", "Oppenheimer", 2023, 3.4),
			sampleMovie(11, "poor-things", "Poor Things", 2023, 2.5),
		},
		Progress: map[int]float64{
			8:  75,
			9:  20,
			10: 50,
			11: 90,
		},
		Downloads: []DownloadRecord{},
		Settings:  Settings{Quality: QualityBetter},
	}
	doc.ApplyDefaults()
	return doc
}
