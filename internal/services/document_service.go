package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dentprep/exam-service/internal/models"
	"github.com/dentprep/exam-service/internal/repositories"
	"github.com/dentprep/exam-service/internal/storage"
)

// DefaultMaxUploadBytes caps a single study document.
const DefaultMaxUploadBytes int64 = 5 << 20

type documentService struct {
	repo     repositories.Repository
	db       *gorm.DB
	logger   *slog.Logger
	store    storage.ObjectStore
	maxBytes int64
}

func NewDocumentService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, store storage.ObjectStore, maxBytes int64) DocumentService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &documentService{
		repo:     repo,
		db:       db,
		logger:   logger,
		store:    store,
		maxBytes: maxBytes,
	}
}

func (s *documentService) Upload(ctx context.Context, userID string, in *UploadDocumentInput) (*models.StudyDocument, error) {
	s.logger.Info("Uploading study document",
		"user_id", userID,
		"title", in.Title,
		"size", in.Size,
		"content_type", in.ContentType)

	title := strings.TrimSpace(in.Title)
	if title == "" || utf8.RuneCountInString(title) > 200 {
		return nil, ValidationErrors{{Field: "title", Message: "must be 1-200 characters", Value: in.Title, Rule: "required"}}
	}
	if in.Size > s.maxBytes {
		return nil, ErrDocumentTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(in.Content, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrDocumentTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrDocumentEmpty
	}

	contentType := in.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !isTextContent(contentType) || !utf8.Valid(data) {
		return nil, NewBusinessRuleError("text_document",
			"study documents must be UTF-8 text",
			map[string]interface{}{"content_type": contentType})
	}

	if in.SubjectID != nil {
		if _, err := s.repo.Subject().GetByID(ctx, s.db, *in.SubjectID); err != nil {
			if repositories.IsNotFoundError(err) {
				return nil, ErrSubjectNotFound
			}
			return nil, fmt.Errorf("failed to get subject: %w", err)
		}
	}

	key := storage.DocumentKey(userID, uuid.NewString())
	if err := s.store.Put(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	doc := &models.StudyDocument{
		UserID:      userID,
		Title:       title,
		StorageKey:  key,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		SubjectID:   in.SubjectID,
	}
	if err := s.repo.Document().Create(ctx, s.db, doc); err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn("Failed to remove orphaned document blob", "key", key, "error", delErr)
		}
		return nil, fmt.Errorf("failed to record document: %w", err)
	}

	s.logger.Info("Study document uploaded", "document_id", doc.ID, "user_id", userID, "size", doc.SizeBytes)
	return doc, nil
}

func (s *documentService) List(ctx context.Context, userID string, limit, offset int) ([]*models.StudyDocument, int64, error) {
	docs, total, err := s.repo.Document().ListByUser(ctx, s.db, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, total, nil
}

func (s *documentService) Get(ctx context.Context, id uint, userID string) (*models.StudyDocument, error) {
	return s.owned(ctx, id, userID, "view")
}

func (s *documentService) Download(ctx context.Context, id uint, userID string) (*models.StudyDocument, io.ReadCloser, error) {
	doc, err := s.owned(ctx, id, userID, "download")
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Get(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Error("Document blob missing", "document_id", id, "key", doc.StorageKey)
			return nil, nil, ErrDocumentNotFound
		}
		return nil, nil, fmt.Errorf("failed to open document: %w", err)
	}
	return doc, rc, nil
}

func (s *documentService) Delete(ctx context.Context, id uint, userID string) error {
	doc, err := s.owned(ctx, id, userID, "delete")
	if err != nil {
		return err
	}
	if err := s.repo.Document().Delete(ctx, s.db, id); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if err := s.store.Delete(ctx, doc.StorageKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.Warn("Failed to delete document blob", "document_id", id, "key", doc.StorageKey, "error", err)
	}

	s.logger.Info("Study document deleted", "document_id", id, "user_id", userID)
	return nil
}

// ReadText loads a document's text from object storage.
func (s *documentService) ReadText(ctx context.Context, doc *models.StudyDocument) (string, error) {
	rc, err := s.store.Get(ctx, doc.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", ErrDocumentNotFound
		}
		return "", fmt.Errorf("failed to open document: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", ErrDocumentEmpty
	}
	return text, nil
}

func (s *documentService) owned(ctx context.Context, id uint, userID, action string) (*models.StudyDocument, error) {
	doc, err := s.repo.Document().GetByID(ctx, s.db, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc.UserID != userID {
		return nil, NewPermissionError(userID, id, "document", action, "not owned by user")
	}
	return doc, nil
}

func isTextContent(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/") || mediaType == "application/json"
}
