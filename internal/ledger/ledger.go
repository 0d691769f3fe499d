package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bassista/go_reel/internal/channel"
	"github.com/bassista/go_reel/internal/logger"
	"github.com/bassista/go_reel/internal/metrics"
	"github.com/bassista/go_reel/internal/repository"
)

var (
	ErrMovieNotFound   = errors.New("movie not found")
	ErrInvalidQuality  = errors.New("invalid quality")
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
)

// Sender delivers commands to the worker. The outbox implements it.
type Sender interface {
	Send(ctx context.Context, m channel.Message) error
}

// Options are the storage-economy constants of the ledger.
type Options struct {
	// AutoDeleteThreshold is the progress percentage at which a title
	// counts as watched.
	AutoDeleteThreshold float64
	Multipliers         map[repository.Quality]float64
	// FallbackSizeGB is recorded for titles without a base size.
	FallbackSizeGB float64
}

func DefaultOptions() Options {
	return Options{
		AutoDeleteThreshold: 95,
		Multipliers: map[repository.Quality]float64{
			repository.QualityGood:   0.5,
			repository.QualityBetter: 1.0,
			repository.QualityBest:   1.8,
		},
		FallbackSizeGB: 0.45,
	}
}

// Ledger keeps the foreground data document in memory: the catalog, the
// watch progress, the download records and the download settings. Every
// mutation marks it dirty for the persistence scheduler.
type Ledger struct {
	mu         sync.RWMutex
	data       repository.DataDocument
	dirty      bool
	version    uint64 // bumped on every mutation
	lastUpdate int64

	opts   Options
	sender Sender
	now    func() time.Time
}

// New creates a ledger over doc that sends its commands through sender.
func New(doc repository.DataDocument, opts Options, sender Sender) *Ledger {
	doc.ApplyDefaults()
	l := &Ledger{data: doc, lastUpdate: doc.Metadata.LastUpdate, opts: opts, sender: sender, now: time.Now}
	metrics.SetDownloads(len(doc.Downloads))
	return l
}

// IsDirty returns true if the ledger has changes not yet persisted.
func (l *Ledger) IsDirty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dirty
}

func (l *Ledger) GetLastUpdate() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastUpdate
}

// Snapshot returns a deep copy of the document.
func (l *Ledger) Snapshot() (repository.DataDocument, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneData(l.data)
}

// Replace swaps the whole document, e.g. after the data file was edited on
// disk. No commands are sent for records that appear or disappear.
func (l *Ledger) Replace(doc repository.DataDocument) error {
	cloned, err := cloneData(doc)
	if err != nil {
		return err
	}
	cloned.ApplyDefaults()

	l.mu.Lock()
	l.data = cloned
	l.lastUpdate = doc.Metadata.LastUpdate
	l.dirty = false
	l.version++
	n := len(cloned.Downloads)
	l.mu.Unlock()

	metrics.SetDownloads(n)
	return nil
}

// flushState returns a snapshot together with the version it reflects.
func (l *Ledger) flushState() (repository.DataDocument, uint64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	doc, err := cloneData(l.data)
	return doc, l.version, l.dirty, err
}

// markPersisted clears the dirty flag unless the ledger changed after the
// snapshot at version was taken.
func (l *Ledger) markPersisted(version uint64, lastUpdate int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.Metadata.LastUpdate = lastUpdate
	l.lastUpdate = lastUpdate
	if l.version == version {
		l.dirty = false
	}
}

// touch records a mutation. Callers hold mu.
func (l *Ledger) touch() {
	l.dirty = true
	l.version++
}

func (l *Ledger) Movies() []repository.Movie {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]repository.Movie, len(l.data.Movies))
	copy(out, l.data.Movies)
	return out
}

func (l *Ledger) Movie(id int) (repository.Movie, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data.FindMovie(id)
}

// Downloads lists the records in creation order.
func (l *Ledger) Downloads() []repository.DownloadRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]repository.DownloadRecord, len(l.data.Downloads))
	copy(out, l.data.Downloads)
	return out
}

// TotalSizeGB sums the recorded sizes.
func (l *Ledger) TotalSizeGB() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0.0
	for _, r := range l.data.Downloads {
		total += r.SizeGB
	}
	return round2(total)
}

func (l *Ledger) Settings() repository.Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data.Settings
}

// Progress returns a copy of the watch progress by movie id.
func (l *Ledger) Progress() map[int]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[int]float64, len(l.data.Progress))
	for k, v := range l.data.Progress {
		out[k] = v
	}
	return out
}

// SizeFor is the recorded size of movie m downloaded at quality q.
func (l *Ledger) SizeFor(m repository.Movie, q repository.Quality) float64 {
	if m.BaseSizeGB <= 0 {
		return l.opts.FallbackSizeGB
	}
	mult, ok := l.opts.Multipliers[q]
	if !ok {
		mult = 1
	}
	return round2(m.BaseSizeGB * mult)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// videoURL picks the rendition backing q, falling back to whatever
// rendition the title has.
func videoURL(m repository.Movie, q repository.Quality) string {
	if u := m.VideoURLs[q.Rendition()]; u != "" {
		return u
	}
	for _, alt := range []repository.Quality{repository.QualityBetter, repository.QualityGood, repository.QualityBest} {
		if u := m.VideoURLs[alt.Rendition()]; u != "" {
			return u
		}
	}
	return ""
}

// Download records movieID as downloaded at quality q and asks the worker to
// cache its video. An empty q means the quality from the settings. If the
// movie already has a record nothing changes and the existing record is
// returned with created false; the quality is never upgraded in place.
func (l *Ledger) Download(ctx context.Context, movieID int, q repository.Quality) (repository.DownloadRecord, bool, error) {
	l.mu.Lock()
	if q == "" {
		q = l.data.Settings.Quality
	}
	if !q.Valid() {
		l.mu.Unlock()
		return repository.DownloadRecord{}, false, fmt.Errorf("%w: %q", ErrInvalidQuality, q)
	}
	for _, r := range l.data.Downloads {
		if r.MovieID == movieID {
			l.mu.Unlock()
			return r, false, nil
		}
	}
	movie, ok := l.data.FindMovie(movieID)
	if !ok {
		l.mu.Unlock()
		return repository.DownloadRecord{}, false, fmt.Errorf("%w: %d", ErrMovieNotFound, movieID)
	}

	rec := repository.DownloadRecord{
		MovieID:   movieID,
		Quality:   q,
		SizeGB:    l.SizeFor(movie, q),
		VideoURL:  videoURL(movie, q),
		CreatedAt: l.now().UnixMilli(),
	}
	l.data.Downloads = append(l.data.Downloads, rec)
	l.touch()
	n := len(l.data.Downloads)
	l.mu.Unlock()

	metrics.SetDownloads(n)
	logger.WithComponent("ledger").Infof("downloaded movie %d at %s (%.2f GB)", movieID, q, rec.SizeGB)
	if rec.VideoURL != "" {
		l.send(ctx, channel.Message{Type: channel.CacheVideo, URL: rec.VideoURL})
	}
	l.Sweep(ctx)
	return rec, true, nil
}

// Remove deletes the record of movieID and asks the worker to evict its
// video. It reports whether a record existed.
func (l *Ledger) Remove(ctx context.Context, movieID int) bool {
	l.mu.Lock()
	idx := -1
	for i, r := range l.data.Downloads {
		if r.MovieID == movieID {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return false
	}
	rec := l.data.Downloads[idx]
	l.data.Downloads = append(l.data.Downloads[:idx], l.data.Downloads[idx+1:]...)
	l.touch()
	n := len(l.data.Downloads)
	l.mu.Unlock()

	metrics.SetDownloads(n)
	logger.WithComponent("ledger").Infof("removed download of movie %d", movieID)
	if rec.VideoURL != "" {
		l.send(ctx, channel.Message{Type: channel.DeleteVideo, URL: rec.VideoURL})
	}
	return true
}

// Clear drops every record and asks the worker to drop its video store. It
// returns how many records were dropped.
func (l *Ledger) Clear(ctx context.Context) int {
	l.mu.Lock()
	n := len(l.data.Downloads)
	l.data.Downloads = []repository.DownloadRecord{}
	l.touch()
	l.mu.Unlock()

	metrics.SetDownloads(0)
	logger.WithComponent("ledger").Infof("cleared %d downloads", n)
	l.send(ctx, channel.Message{Type: channel.ClearVideoCache})
	return n
}

// SetSettings replaces the download settings. Enabling auto-delete sweeps
// immediately.
func (l *Ledger) SetSettings(ctx context.Context, s repository.Settings) error {
	if !s.Quality.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidQuality, s.Quality)
	}
	l.mu.Lock()
	l.data.Settings = s
	l.touch()
	l.mu.Unlock()

	l.Sweep(ctx)
	return nil
}

// SetProgress records how much of movieID was watched, then sweeps.
func (l *Ledger) SetProgress(ctx context.Context, movieID int, pct float64) error {
	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidProgress, pct)
	}
	l.mu.Lock()
	if _, ok := l.data.FindMovie(movieID); !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrMovieNotFound, movieID)
	}
	l.data.Progress[movieID] = pct
	l.touch()
	l.mu.Unlock()

	l.Sweep(ctx)
	return nil
}

// Sweep removes, when auto-delete is on, every record whose movie progress
// reached the threshold, sending DELETE_VIDEO for each. A single pass
// reaches the fixpoint: afterwards exactly the records below the threshold
// remain. It returns the removed records.
func (l *Ledger) Sweep(ctx context.Context) []repository.DownloadRecord {
	l.mu.Lock()
	if !l.data.Settings.AutoDelete {
		l.mu.Unlock()
		return nil
	}
	var removed []repository.DownloadRecord
	kept := make([]repository.DownloadRecord, 0, len(l.data.Downloads))
	for _, r := range l.data.Downloads {
		if p, ok := l.data.Progress[r.MovieID]; ok && p >= l.opts.AutoDeleteThreshold {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	if len(removed) == 0 {
		l.mu.Unlock()
		return nil
	}
	l.data.Downloads = kept
	l.touch()
	n := len(kept)
	l.mu.Unlock()

	metrics.SetDownloads(n)
	metrics.AddAutoDeleted(len(removed))
	log := logger.WithComponent("ledger")
	for _, r := range removed {
		log.Infof("auto-deleted watched movie %d", r.MovieID)
		if r.VideoURL != "" {
			l.send(ctx, channel.Message{Type: channel.DeleteVideo, URL: r.VideoURL})
		}
	}
	return removed
}

// send hands m to the channel. The ledger stays the source of truth even when
// the command cannot be queued.
func (l *Ledger) send(ctx context.Context, m channel.Message) {
	if l.sender == nil {
		return
	}
	if err := l.sender.Send(ctx, m); err != nil {
		logger.WithComponent("ledger").Warnf("cannot send %s: %v", m, err)
	}
}

// VideoMatcher answers whether a video URL is present in the worker's video
// store.
type VideoMatcher interface {
	HasVideo(ctx context.Context, url string) (bool, error)
}

// Verification states of a download.
const (
	StatusComplete   = "complete"
	StatusIncomplete = "download incomplete"
	StatusUnknown    = "unknown"
)

// Verification is the result of checking one record against the video store.
type Verification struct {
	repository.DownloadRecord
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Verify checks every record against the video store. Records are reported,
// never repaired. A record whose lookup fails is reported as unknown.
func (l *Ledger) Verify(ctx context.Context, matcher VideoMatcher) ([]Verification, error) {
	records := l.Downloads()
	out := make([]Verification, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		v := Verification{DownloadRecord: r, Status: StatusIncomplete}
		if r.VideoURL != "" {
			ok, err := matcher.HasVideo(ctx, r.VideoURL)
			switch {
			case err != nil:
				v.Status = StatusUnknown
				v.Error = err.Error()
			case ok:
				v.Status = StatusComplete
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// cloneData deep-copies the document to avoid shared slices between the
// ledger and callers.
func cloneData(doc repository.DataDocument) (repository.DataDocument, error) {
	bytes, err := json.Marshal(doc)
	if err != nil {
		return repository.DataDocument{}, err
	}
	var copy repository.DataDocument
	if err := json.Unmarshal(bytes, &copy); err != nil {
		return repository.DataDocument{}, err
	}
	return copy, nil
}
