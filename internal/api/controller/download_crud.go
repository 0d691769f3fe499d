package controller

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/bassista/go_reel/internal/ledger"
	"github.com/bassista/go_reel/internal/repository"
)

// DownloadRequest is the payload of POST /download. An empty quality means
// the quality of the download settings.
type DownloadRequest struct {
	MovieID int                `json:"movieId" validate:"required,gt=0"`
	Quality repository.Quality `json:"quality" validate:"omitempty,oneof=Good Better Best"`
}

// DownloadCrudService implements CrudService for download records.
type DownloadCrudService struct {
	Ledger *ledger.Ledger
}

func (s *DownloadCrudService) All(_ context.Context) ([]repository.DownloadRecord, error) {
	return s.Ledger.Downloads(), nil
}

func (s *DownloadCrudService) Add(ctx context.Context, item DownloadRequest) (repository.DownloadRecord, bool, error) {
	return s.Ledger.Download(ctx, item.MovieID, item.Quality)
}

func (s *DownloadCrudService) Remove(ctx context.Context, id string) ([]repository.DownloadRecord, error) {
	movieID, err := strconv.Atoi(id)
	if err != nil || movieID <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if !s.Ledger.Remove(ctx, movieID) {
		return nil, fmt.Errorf("%w: no download for movie %d", ErrNotFound, movieID)
	}
	return s.Ledger.Downloads(), nil
}

// DownloadCrudValidator implements CrudValidator for download requests.
type DownloadCrudValidator struct {
	validator *validator.Validate
}

func NewDownloadCrudValidator() *DownloadCrudValidator {
	return &DownloadCrudValidator{validator: validator.New()}
}

func (v *DownloadCrudValidator) Validate(item DownloadRequest) error {
	return v.validator.Struct(item)
}
