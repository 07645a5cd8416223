package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/model"
)

// ErrBetRecordNotFound 流水不存在
var ErrBetRecordNotFound = errors.New("bet record not found")

// JournalRepository 下注流水仓储
type JournalRepository interface {
	// Record 按 bet_id 写入或更新下注信息
	Record(ctx context.Context, rec *model.BetRecord) error
	// Settle 写入开奖结果
	Settle(ctx context.Context, betID string, outcome model.JournalOutcome, path model.PlacementPath, txHash string, payout string, resultBP int64) error
	// MarkFailed 记录失败原因
	MarkFailed(ctx context.Context, betID string, msg string) error
	GetByBetID(ctx context.Context, betID string) (*model.BetRecord, error)
	ListByPlayer(ctx context.Context, player string, page *Pagination) ([]*model.BetRecord, error)
}

type journalRepository struct {
	*Repository
}

// NewJournalRepository 创建下注流水仓储
func NewJournalRepository(db *gorm.DB) JournalRepository {
	return &journalRepository{Repository: NewRepository(db)}
}

func (r *journalRepository) Record(ctx context.Context, rec *model.BetRecord) error {
	now := time.Now().UnixMilli()
	rec.UpdatedAt = now
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	if rec.ResultBP == 0 {
		rec.ResultBP = -1
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bet_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"placement_block", "place_path", "place_tx_hash", "updated_at"}),
	}).Create(rec).Error
}

func (r *journalRepository) Settle(ctx context.Context, betID string, outcome model.JournalOutcome, path model.PlacementPath, txHash string, payout string, resultBP int64) error {
	updates := map[string]interface{}{
		"outcome":    outcome,
		"claim_path": path,
		"result_bp":  resultBP,
		"updated_at": time.Now().UnixMilli(),
	}
	if txHash != "" {
		updates["claim_tx_hash"] = txHash
	}
	if payout != "" {
		updates["payout"] = payout
	}
	return r.update(ctx, betID, updates)
}

func (r *journalRepository) MarkFailed(ctx context.Context, betID string, msg string) error {
	return r.update(ctx, betID, map[string]interface{}{
		"error_message": msg,
		"updated_at":    time.Now().UnixMilli(),
	})
}

func (r *journalRepository) update(ctx context.Context, betID string, updates map[string]interface{}) error {
	result := r.DB(ctx).Model(&model.BetRecord{}).Where("bet_id = ?", betID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBetRecordNotFound
	}
	return nil
}

func (r *journalRepository) GetByBetID(ctx context.Context, betID string) (*model.BetRecord, error) {
	var rec model.BetRecord
	err := r.DB(ctx).Where("bet_id = ?", betID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBetRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *journalRepository) ListByPlayer(ctx context.Context, player string, page *Pagination) ([]*model.BetRecord, error) {
	q := r.DB(ctx).Model(&model.BetRecord{}).Where("LOWER(player) = LOWER(?)", player).Session(&gorm.Session{})
	if page == nil {
		page = &Pagination{}
	}
	if err := q.Count(&page.Total).Error; err != nil {
		return nil, err
	}
	var recs []*model.BetRecord
	err := q.Order("id DESC").Offset(page.Offset()).Limit(page.Limit()).Find(&recs).Error
	return recs, err
}
