package controller

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/bassista/go_reel/internal/ledger"
	"github.com/bassista/go_reel/internal/repository"
)

// MovieView is a catalog title together with the user's state for it.
type MovieView struct {
	repository.Movie
	Progress float64                    `json:"progress"`
	Download *repository.DownloadRecord `json:"download,omitempty"`
	// SizesGB is the recorded size of a download at each quality.
	SizesGB map[repository.Quality]float64 `json:"sizesGb"`
}

// ProgressRequest is the payload of PUT /progress/:id.
type ProgressRequest struct {
	Progress *float64 `json:"progress" validate:"required,gte=0,lte=100"`
}

// CatalogController serves the movie catalog and watch progress.
type CatalogController struct {
	ledger    *ledger.Ledger
	validator *validator.Validate
}

func NewCatalogController(l *ledger.Ledger) *CatalogController {
	return &CatalogController{ledger: l, validator: validator.New()}
}

func (cc *CatalogController) view(m repository.Movie, progress map[int]float64, downloads map[int]repository.DownloadRecord) MovieView {
	v := MovieView{Movie: m, Progress: progress[m.ID], SizesGB: map[repository.Quality]float64{}}
	if d, ok := downloads[m.ID]; ok {
		v.Download = &d
	}
	for _, q := range repository.Qualities {
		v.SizesGB[q] = cc.ledger.SizeFor(m, q)
	}
	return v
}

func (cc *CatalogController) indexes() (map[int]float64, map[int]repository.DownloadRecord) {
	downloads := map[int]repository.DownloadRecord{}
	for _, d := range cc.ledger.Downloads() {
		downloads[d.MovieID] = d
	}
	return cc.ledger.Progress(), downloads
}

func (cc *CatalogController) AllMovies(c *gin.Context) {
	progress, downloads := cc.indexes()
	movies := cc.ledger.Movies()
	out := make([]MovieView, 0, len(movies))
	for _, m := range movies {
		out = append(out, cc.view(m, progress, downloads))
	}
	c.JSON(http.StatusOK, out)
}

func (cc *CatalogController) GetMovie(c *gin.Context) {
	id, err := movieID(c.Param("id"))
	if err != nil {
		writeError(c, err, "")
		return
	}
	m, ok := cc.ledger.Movie(id)
	if !ok {
		writeError(c, fmt.Errorf("%w: %d", ledger.ErrMovieNotFound, id), "")
		return
	}
	progress, downloads := cc.indexes()
	c.JSON(http.StatusOK, cc.view(m, progress, downloads))
}

// PutProgress records watch progress. Crossing the auto-delete threshold
// removes the title's download when auto-delete is on.
func (cc *CatalogController) PutProgress(c *gin.Context) {
	id, err := movieID(c.Param("id"))
	if err != nil {
		writeError(c, err, "")
		return
	}
	var req ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := cc.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := cc.ledger.SetProgress(c.Request.Context(), id, *req.Progress); err != nil {
		writeError(c, err, "failed to update progress")
		return
	}
	c.JSON(http.StatusOK, gin.H{"movieId": id, "progress": *req.Progress})
}

func movieID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return id, nil
}
