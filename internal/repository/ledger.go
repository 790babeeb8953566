package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/entity"
	"github.com/rmoura-dev/docflow/internal/ledger"
)

// LedgerRepository persists ledger files and their parsed contents.
type LedgerRepository interface {
	CreateFile(ctx context.Context, file *entity.LedgerFile) error
	GetFile(ctx context.Context, id uuid.UUID) (*entity.LedgerFile, error)
	FindByHash(ctx context.Context, organizationID uuid.UUID, hash string) (*entity.LedgerFile, error)
	UpdateFileStatus(ctx context.Context, id uuid.UUID, status constants.LedgerFileStatus, errMsg *string) error
	SaveParsed(ctx context.Context, fileID uuid.UUID, result *ledger.Result) error
	LoadParsed(ctx context.Context, fileID uuid.UUID) (*ledger.Result, error)
}

type ledgerRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewLedgerRepository(pool *pgxpool.Pool, logger *slog.Logger) LedgerRepository {
	return &ledgerRepository{pool: pool, logger: logger}
}

func (r *ledgerRepository) CreateFile(ctx context.Context, file *entity.LedgerFile) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	file.UploadedAt = time.Now().UTC()
	if file.Status == "" {
		file.Status = constants.LedgerFileProcessing
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO ledger_files (id, organization_id, uploaded_by, file_name, file_path, file_hash,
		     company_name, company_tax_id, period_start, period_end, status, total_records, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		file.ID, file.OrganizationID, file.UploadedBy, file.FileName, file.FilePath, file.FileHash,
		file.CompanyName, file.CompanyTaxID, nullIfEmpty(file.PeriodStart), nullIfEmpty(file.PeriodEnd),
		file.Status, file.TotalRecords, file.UploadedAt)
	if err != nil {
		r.logger.Error("failed to create ledger file", "file_name", file.FileName, "error", err)
		return common.NewAppError("DB_ERROR", "create ledger file", err)
	}
	return nil
}

func (r *ledgerRepository) GetFile(ctx context.Context, id uuid.UUID) (*entity.LedgerFile, error) {
	return r.getFile(ctx, `WHERE id = $1`, id)
}

// FindByHash supports upload dedup: same content for the same tenant is the
// same file.
func (r *ledgerRepository) FindByHash(ctx context.Context, organizationID uuid.UUID, hash string) (*entity.LedgerFile, error) {
	file, err := r.getFile(ctx, `WHERE organization_id = $1 AND file_hash = $2`, organizationID, hash)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return file, nil
}

func (r *ledgerRepository) getFile(ctx context.Context, where string, args ...any) (*entity.LedgerFile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, organization_id, uploaded_by, file_name, file_path, file_hash, company_name,
		        company_tax_id, COALESCE(period_start, ''), COALESCE(period_end, ''), status,
		        error_message, total_records, uploaded_at
		 FROM ledger_files `+where, args...)

	var file entity.LedgerFile
	err := row.Scan(&file.ID, &file.OrganizationID, &file.UploadedBy, &file.FileName, &file.FilePath,
		&file.FileHash, &file.CompanyName, &file.CompanyTaxID, &file.PeriodStart, &file.PeriodEnd,
		&file.Status, &file.ErrorMessage, &file.TotalRecords, &file.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewAppError("NOT_FOUND", "ledger file not found", common.ErrNotFound)
		}
		r.logger.Error("failed to get ledger file", "error", err)
		return nil, common.NewAppError("DB_ERROR", "get ledger file", err)
	}
	return &file, nil
}

func (r *ledgerRepository) UpdateFileStatus(ctx context.Context, id uuid.UUID, status constants.LedgerFileStatus, errMsg *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE ledger_files SET status = $2, error_message = $3 WHERE id = $1`, id, status, errMsg)
	if err != nil {
		r.logger.Error("failed to update ledger file status", "file_id", id, "status", status, "error", err)
		return common.NewAppError("DB_ERROR", "update ledger file status", err)
	}
	return nil
}

// SaveParsed replaces the parsed rows of a file in one transaction, so a
// retried job never leaves duplicates behind.
func (r *ledgerRepository) SaveParsed(ctx context.Context, fileID uuid.UUID, result *ledger.Result) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return common.NewAppError("DB_ERROR", "begin save parsed", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{"ledger_items", "ledger_entries", "ledger_balances", "ledger_accounts"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE file_id = $1`, table), fileID); err != nil {
			return common.NewAppError("DB_ERROR", "clear parsed rows", err)
		}
	}

	for _, acc := range result.Accounts {
		_, err := tx.Exec(ctx,
			`INSERT INTO ledger_accounts (file_id, code, name, type, level, parent_code, nature, referential_code, cost_center_code)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			fileID, acc.Code, acc.Name, acc.Type, acc.Level, nullIfEmpty(acc.ParentCode),
			nullIfEmpty(acc.Nature), nullIfEmpty(acc.ReferentialCode), nullIfEmpty(acc.CostCenterCode))
		if err != nil {
			return common.NewAppError("DB_ERROR", "insert account", err)
		}
	}

	for _, bal := range result.Balances {
		_, err := tx.Exec(ctx,
			`INSERT INTO ledger_balances (file_id, account_code, period_date, initial_balance, debit_total, credit_total, final_balance)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			fileID, bal.AccountCode, nullIfEmpty(bal.PeriodDate), bal.InitialBalance,
			bal.DebitTotal, bal.CreditTotal, bal.FinalBalance)
		if err != nil {
			return common.NewAppError("DB_ERROR", "insert balance", err)
		}
	}

	for _, entry := range result.Entries {
		var entryID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO ledger_entries (file_id, number, entry_date, amount, type)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			fileID, entry.Number, nullIfEmpty(entry.Date), entry.Amount, entry.Type).Scan(&entryID)
		if err != nil {
			return common.NewAppError("DB_ERROR", "insert entry", err)
		}
		for _, item := range entry.Items {
			_, err := tx.Exec(ctx,
				`INSERT INTO ledger_items (file_id, entry_id, account_code, amount, debit_credit, description, cost_center_code)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				fileID, entryID, item.AccountCode, item.Amount, item.DebitCredit,
				nullIfEmpty(item.Description), nullIfEmpty(item.CostCenterCode))
			if err != nil {
				return common.NewAppError("DB_ERROR", "insert item", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return common.NewAppError("DB_ERROR", "commit save parsed", err)
	}

	r.logger.Info("ledger.parsed_saved",
		"file_id", fileID,
		"accounts", len(result.Accounts),
		"balances", len(result.Balances),
		"entries", len(result.Entries),
	)
	return nil
}

// LoadParsed rebuilds a parse result from the database for validation runs.
func (r *ledgerRepository) LoadParsed(ctx context.Context, fileID uuid.UUID) (*ledger.Result, error) {
	result := &ledger.Result{}

	rows, err := r.pool.Query(ctx,
		`SELECT code, name, type, level, COALESCE(parent_code, ''), COALESCE(nature, ''),
		        COALESCE(referential_code, ''), COALESCE(cost_center_code, '')
		 FROM ledger_accounts WHERE file_id = $1 ORDER BY code`, fileID)
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "load accounts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var acc entity.Account
		if err := rows.Scan(&acc.Code, &acc.Name, &acc.Type, &acc.Level, &acc.ParentCode,
			&acc.Nature, &acc.ReferentialCode, &acc.CostCenterCode); err != nil {
			return nil, common.NewAppError("DB_ERROR", "scan account", err)
		}
		result.Accounts = append(result.Accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewAppError("DB_ERROR", "load accounts", err)
	}

	balRows, err := r.pool.Query(ctx,
		`SELECT account_code, COALESCE(period_date, ''), initial_balance, debit_total, credit_total, final_balance
		 FROM ledger_balances WHERE file_id = $1`, fileID)
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "load balances", err)
	}
	defer balRows.Close()
	for balRows.Next() {
		var bal entity.Balance
		if err := balRows.Scan(&bal.AccountCode, &bal.PeriodDate, &bal.InitialBalance,
			&bal.DebitTotal, &bal.CreditTotal, &bal.FinalBalance); err != nil {
			return nil, common.NewAppError("DB_ERROR", "scan balance", err)
		}
		result.Balances = append(result.Balances, bal)
	}
	if err := balRows.Err(); err != nil {
		return nil, common.NewAppError("DB_ERROR", "load balances", err)
	}

	entryRows, err := r.pool.Query(ctx,
		`SELECT id, number, COALESCE(entry_date, ''), amount, type
		 FROM ledger_entries WHERE file_id = $1 ORDER BY id`, fileID)
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "load entries", err)
	}
	defer entryRows.Close()

	entryIndex := map[int64]int{}
	var entryIDs []int64
	for entryRows.Next() {
		var (
			id    int64
			entry entity.LedgerEntry
		)
		if err := entryRows.Scan(&id, &entry.Number, &entry.Date, &entry.Amount, &entry.Type); err != nil {
			return nil, common.NewAppError("DB_ERROR", "scan entry", err)
		}
		entryIndex[id] = len(result.Entries)
		entryIDs = append(entryIDs, id)
		result.Entries = append(result.Entries, entry)
	}
	if err := entryRows.Err(); err != nil {
		return nil, common.NewAppError("DB_ERROR", "load entries", err)
	}

	if len(entryIDs) > 0 {
		itemRows, err := r.pool.Query(ctx,
			`SELECT entry_id, account_code, amount, debit_credit, COALESCE(description, ''), COALESCE(cost_center_code, '')
			 FROM ledger_items WHERE file_id = $1 ORDER BY id`, fileID)
		if err != nil {
			return nil, common.NewAppError("DB_ERROR", "load items", err)
		}
		defer itemRows.Close()
		for itemRows.Next() {
			var (
				entryID int64
				item    entity.LedgerItem
			)
			if err := itemRows.Scan(&entryID, &item.AccountCode, &item.Amount, &item.DebitCredit,
				&item.Description, &item.CostCenterCode); err != nil {
				return nil, common.NewAppError("DB_ERROR", "scan item", err)
			}
			if idx, ok := entryIndex[entryID]; ok {
				result.Entries[idx].Items = append(result.Entries[idx].Items, item)
			}
		}
		if err := itemRows.Err(); err != nil {
			return nil, common.NewAppError("DB_ERROR", "load items", err)
		}
	}

	return result, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
