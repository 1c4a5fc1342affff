package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
)

// Repository manages accounts and their journal.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAccount(ctx context.Context, account *models.Account) error
	FindByNumber(ctx context.Context, accountNumber string) (*models.Account, error)
	FindByNumberForUpdate(ctx context.Context, accountNumber string) (*models.Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
	CreateEntry(ctx context.Context, entry *models.LedgerEntry) error
	FindEntry(ctx context.Context, paymentID uuid.UUID, entryType enums.LedgerEntryType) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindByNumber(ctx context.Context, accountNumber string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).
		Where("account_number = ?", accountNumber).
		Take(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// FindByNumberForUpdate row-locks the account until the surrounding
// transaction ends.
func (r *repository) FindByNumberForUpdate(ctx context.Context, accountNumber string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_number = ?", accountNumber).
		Take(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"balance":    balance,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// FindEntry returns the entry of entryType already written for paymentID, or
// nil when there is none.
func (r *repository) FindEntry(ctx context.Context, paymentID uuid.UUID, entryType enums.LedgerEntryType) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("payment_id = ? AND entry_type = ?", paymentID, entryType).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	query := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
