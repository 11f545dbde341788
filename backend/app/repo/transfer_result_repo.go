package repo

import (
	"errors"

	"chunk-relay/backend/app/models"

	"gorm.io/gorm"
)

type TransferResultRepository struct {
	db *gorm.DB
}

func NewTransferResultRepository(db *gorm.DB) *TransferResultRepository {
	return &TransferResultRepository{db: db}
}

func (r *TransferResultRepository) Create(res *models.TransferResult) error {
	return r.db.Create(res).Error
}

// ListBySession returns the results of a session in the order they were reported.
func (r *TransferResultRepository) ListBySession(sessionID string) ([]models.TransferResult, error) {
	var out []models.TransferResult
	if err := r.db.
		Where("session_id = ?", sessionID).
		Order("processed_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the newest result of a session, or nil if there is none.
func (r *TransferResultRepository) Latest(sessionID string) (*models.TransferResult, error) {
	var res models.TransferResult
	err := r.db.
		Where("session_id = ?", sessionID).
		Order("processed_at DESC, id DESC").
		First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CountByStatus returns how many results carry each status.
func (r *TransferResultRepository) CountByStatus() (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := r.db.
		Model(&models.TransferResult{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}
