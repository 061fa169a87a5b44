package service

import (
	"context"
	"errors"

	"github.com/shjeon-96/ideatoprd-sub001/internal/auth"
	"github.com/shjeon-96/ideatoprd-sub001/internal/domain"
	"github.com/shjeon-96/ideatoprd-sub001/internal/store"
)

// DocumentService serves generated documents and their ratings.
type DocumentService struct {
	store store.Ledger
}

func NewDocumentService(s store.Ledger) *DocumentService {
	return &DocumentService{store: s}
}

func (s *DocumentService) GetDocument(ctx context.Context, caller *auth.Identity, docID string) (*domain.Document, error) {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(caller, doc.AccountID); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) ListDocuments(ctx context.Context, caller *auth.Identity) ([]domain.Document, error) {
	if caller == nil {
		return nil, domain.ErrUnauthorized
	}
	return s.store.ListDocuments(ctx, caller.AccountID)
}

// The 1/2 rating scale comes from the product; values outside it are
// rejected rather than reinterpreted.
var (
	ErrInvalidRating   = errors.New("rating must be 1 or 2")
	ErrFeedbackTooLong = errors.New("feedback exceeds maximum length")
)

// Rate records the owner's rating for a document. Non-owners get
// Forbidden and the stored rating is untouched.
func (s *DocumentService) Rate(ctx context.Context, caller *auth.Identity, docID string, req domain.RateRequest) (*domain.Rating, error) {
	if req.Rating != 1 && req.Rating != 2 {
		return nil, ErrInvalidRating
	}
	if len(req.Feedback) > domain.MaxFeedbackLen {
		return nil, ErrFeedbackTooLong
	}

	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(caller, doc.AccountID); err != nil {
		return nil, err
	}

	rating := domain.Rating{
		DocumentID: docID,
		AccountID:  caller.AccountID,
		Rating:     req.Rating,
		Feedback:   req.Feedback,
	}
	if err := s.store.SaveRating(ctx, rating); err != nil {
		return nil, err
	}
	return &rating, nil
}
