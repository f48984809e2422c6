package database

import (
	"context"
	"errors"
	"fmt"

	json "github.com/bytedance/sonic"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/models"
)

// ErrNotFound is returned when nothing has been saved yet.
var ErrNotFound = errors.New("not found")

// Store persists ledger bundles and settings.
type Store struct {
	db      *gorm.DB
	txLimit int
}

// NewStore creates a store keeping at most txLimit transactions (0 keeps all).
func NewStore(db *gorm.DB, txLimit int) *Store {
	return &Store{db: db, txLimit: txLimit}
}

// LoadBundle reads the saved portfolio, positions, transactions and learning params.
func (s *Store) LoadBundle(ctx context.Context) (ledger.Bundle, error) {
	db := s.db.WithContext(ctx)

	var pf models.Portfolio
	if err := db.First(&pf, models.PortfolioID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Bundle{}, ErrNotFound
		}
		return ledger.Bundle{}, fmt.Errorf("failed to load portfolio: %w", err)
	}

	var positions []models.Position
	if err := db.Order("symbol").Find(&positions).Error; err != nil {
		return ledger.Bundle{}, fmt.Errorf("failed to load positions: %w", err)
	}

	var txs []models.Transaction
	if err := db.Order("timestamp asc").Find(&txs).Error; err != nil {
		return ledger.Bundle{}, fmt.Errorf("failed to load transactions: %w", err)
	}

	params := ledger.DefaultLearningParams()
	var lp models.LearningParams
	err := db.First(&lp, models.PortfolioID).Error
	switch {
	case err == nil:
		params = fromParamsRecord(lp)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return ledger.Bundle{}, fmt.Errorf("failed to load learning params: %w", err)
	}

	return ledger.Bundle{
		Account: ledger.Account{
			Cash:      pf.CashBalance,
			Positions: lo.Map(positions, func(p models.Position, _ int) ledger.Position { return fromPositionRecord(p) }),
		},
		Transactions: lo.Map(txs, func(t models.Transaction, _ int) ledger.Transaction { return fromTransactionRecord(t) }),
		Params:       params,
		SavedAt:      pf.SavedAt,
	}, nil
}

// SaveBundle replaces the saved state with b inside one database transaction.
func (s *Store) SaveBundle(ctx context.Context, b ledger.Bundle) error {
	txs := b.Transactions
	if s.txLimit > 0 && len(txs) > s.txLimit {
		txs = txs[len(txs)-s.txLimit:]
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pf := models.Portfolio{CashBalance: b.Account.Cash, SavedAt: b.SavedAt}
		pf.ID = models.PortfolioID
		if err := tx.Save(&pf).Error; err != nil {
			return fmt.Errorf("failed to save portfolio: %w", err)
		}

		if err := tx.Unscoped().Where("1 = 1").Delete(&models.Position{}).Error; err != nil {
			return fmt.Errorf("failed to clear positions: %w", err)
		}
		if len(b.Account.Positions) > 0 {
			records := lo.Map(b.Account.Positions, func(p ledger.Position, _ int) models.Position { return toPositionRecord(p) })
			if err := tx.Create(&records).Error; err != nil {
				return fmt.Errorf("failed to save positions: %w", err)
			}
		}

		if len(txs) > 0 {
			records := lo.Map(txs, func(t ledger.Transaction, _ int) models.Transaction { return toTransactionRecord(t) })
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "tx_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"feedback", "updated_at"}),
			}).Create(&records).Error
			if err != nil {
				return fmt.Errorf("failed to save transactions: %w", err)
			}
		}
		if err := pruneTransactions(tx, lo.Map(txs, func(t ledger.Transaction, _ int) string { return t.ID })); err != nil {
			return err
		}

		lp := toParamsRecord(b.Params)
		lp.ID = models.PortfolioID
		if err := tx.Save(&lp).Error; err != nil {
			return fmt.Errorf("failed to save learning params: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save bundle: %w", err)
	}
	return nil
}

// pruneTransactions deletes every saved transaction whose tx_id is not in keep.
func pruneTransactions(tx *gorm.DB, keep []string) error {
	q := tx.Unscoped()
	if len(keep) > 0 {
		q = q.Where("tx_id NOT IN ?", keep)
	} else {
		q = q.Where("1 = 1")
	}
	if err := q.Delete(&models.Transaction{}).Error; err != nil {
		return fmt.Errorf("failed to prune transactions: %w", err)
	}
	return nil
}

// Clear removes every saved row, settings included.
func (s *Store) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&models.Portfolio{}, &models.Position{}, &models.Transaction{}, &models.LearningParams{}, &models.Setting{}} {
			if err := tx.Unscoped().Where("1 = 1").Delete(m).Error; err != nil {
				return fmt.Errorf("failed to clear %T: %w", m, err)
			}
		}
		return nil
	})
}

// LoadSetting decodes the value stored under key into v.
func (s *Store) LoadSetting(ctx context.Context, key string, v any) error {
	var rec models.Setting
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load setting %s: %w", key, err)
	}
	if err := json.UnmarshalString(rec.Value, v); err != nil {
		return fmt.Errorf("failed to decode setting %s: %w", key, err)
	}
	return nil
}

// SaveSetting stores v under key, replacing any previous value.
func (s *Store) SaveSetting(ctx context.Context, key string, v any) error {
	value, err := json.MarshalString(v)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	rec := models.Setting{Key: key, Value: value}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}
