package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const saleColumns = `
	id, sale_number, sale_date, customer_id, customer_name, branch_id, branch_name,
	total_amount_before_discount, total_amount, status, version, created_at, updated_at`

type saleRepository struct {
	db *sql.DB
}

// NewSaleRepository создаёт PostgreSQL-реализацию SaleRepository.
func NewSaleRepository(store *Store) domain.SaleRepository {
	return &saleRepository{db: store.DB()}
}

func (r *saleRepository) Create(ctx context.Context, sale domain.Sale, events ...domain.OutboxMessage) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		sale.ID, sale.SaleNumber, sale.SaleDate, sale.CustomerID, sale.CustomerName,
		sale.BranchID, sale.BranchName, sale.TotalAmountBeforeDiscount, sale.TotalAmount,
		string(sale.Status), sale.Version, sale.CreatedAt, sale.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSaleAlreadyExists
		}
		return fmt.Errorf("insert sale: %w", err)
	}

	if err = insertItems(ctx, tx, sale); err != nil {
		return err
	}
	if err = insertEvents(ctx, tx, events); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create sale: %w", err)
	}
	return nil
}

func (r *saleRepository) Get(ctx context.Context, id string) (domain.Sale, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Sale{}, domain.ErrSaleNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sale, err := scanSale(r.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, domain.ErrSaleNotFound
		}
		return domain.Sale{}, fmt.Errorf("select sale: %w", err)
	}

	items, err := r.loadItems(ctx, []string{sale.ID})
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Items = items[sale.ID]
	return sale, nil
}

func (r *saleRepository) List(ctx context.Context, query domain.ListQuery) (domain.SalePage, error) {
	query, err := query.Normalize()
	if err != nil {
		return domain.SalePage{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := buildSaleFilter(query)

	page := domain.SalePage{
		CurrentPage: query.Page,
		PageSize:    query.Size,
		Items:       []domain.Sale{},
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&page.TotalCount); err != nil {
		return domain.SalePage{}, fmt.Errorf("count sales: %w", err)
	}
	if page.TotalCount == 0 || query.Offset() >= page.TotalCount {
		return page, nil
	}

	selectSQL, selectArgs := buildSalePageQuery(where, args, query)
	rows, err := r.db.QueryContext(ctx, selectSQL, selectArgs...)
	if err != nil {
		return domain.SalePage{}, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, query.Size)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return domain.SalePage{}, fmt.Errorf("scan sale row: %w", err)
		}
		page.Items = append(page.Items, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return domain.SalePage{}, fmt.Errorf("iterate sale rows: %w", err)
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return domain.SalePage{}, err
	}
	for i := range page.Items {
		page.Items[i].Items = items[page.Items[i].ID]
	}
	return page, nil
}

func (r *saleRepository) Save(ctx context.Context, sale domain.Sale, events ...domain.OutboxMessage) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE sales
		SET sale_date = $1,
		    customer_id = $2,
		    customer_name = $3,
		    branch_id = $4,
		    branch_name = $5,
		    total_amount_before_discount = $6,
		    total_amount = $7,
		    status = $8,
		    version = version + 1,
		    updated_at = $9
		WHERE id = $10
		  AND version = $11
	`,
		sale.SaleDate, sale.CustomerID, sale.CustomerName, sale.BranchID, sale.BranchName,
		sale.TotalAmountBeforeDiscount, sale.TotalAmount, string(sale.Status), sale.UpdatedAt,
		sale.ID, sale.Version,
	)
	if err != nil {
		return fmt.Errorf("update sale: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, existsErr := saleExistsTx(ctx, tx, sale.ID)
		switch {
		case existsErr != nil:
			err = existsErr
		case !exists:
			err = domain.ErrSaleNotFound
		default:
			err = domain.ErrSaleVersionConflict
		}
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID); err != nil {
		return fmt.Errorf("delete sale items: %w", err)
	}
	if err = insertItems(ctx, tx, sale); err != nil {
		return err
	}
	if err = insertEvents(ctx, tx, events); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save sale: %w", err)
	}
	return nil
}

func (r *saleRepository) loadItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItem, error) {
	result := make(map[string][]domain.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT sale_id, id, product_id, product_name, quantity, unit_price, discount, total_amount
		FROM sale_items
		WHERE sale_id = ANY($1::uuid[])
		ORDER BY sale_id, position
	`, saleIDs)
	if err != nil {
		return nil, fmt.Errorf("load sale items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			saleID string
			item   domain.SaleItem
		)
		if err := rows.Scan(
			&saleID, &item.ID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.Discount, &item.TotalAmount,
		); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		result[saleID] = append(result[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale items: %w", err)
	}
	return result, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, sale domain.Sale) error {
	for pos, item := range sale.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				id, sale_id, position, product_id, product_name, quantity, unit_price, discount, total_amount
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			item.ID, sale.ID, pos, item.ProductID, item.ProductName,
			item.Quantity, item.UnitPrice, item.Discount, item.TotalAmount,
		); err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []domain.OutboxMessage) error {
	for _, event := range events {
		if _, err := insertOutboxMessage(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

func saleExistsTx(ctx context.Context, tx *sql.Tx, saleID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM sales WHERE id = $1`, saleID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check sale exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var (
		sale   domain.Sale
		status string
	)
	err := row.Scan(
		&sale.ID, &sale.SaleNumber, &sale.SaleDate, &sale.CustomerID, &sale.CustomerName,
		&sale.BranchID, &sale.BranchName, &sale.TotalAmountBeforeDiscount, &sale.TotalAmount,
		&status, &sale.Version, &sale.CreatedAt, &sale.UpdatedAt,
	)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Status = domain.SaleStatus(status)
	sale.SaleDate = sale.SaleDate.UTC()
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return sale, nil
}

// buildSaleFilter собирает WHERE по фильтрам запроса с позиционными аргументами.
// Даты сравниваются по суткам UTC через полуинтервал [начало дня, следующий день).
func buildSaleFilter(q domain.ListQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.CustomerName != "" {
		conds = append(conds, "customer_name ILIKE "+arg(likePattern(q.CustomerName))+` ESCAPE '\'`)
	}
	if q.BranchName != "" {
		conds = append(conds, "branch_name ILIKE "+arg(likePattern(q.BranchName))+` ESCAPE '\'`)
	}
	if q.SaleDate != nil {
		day := domain.StartOfDay(*q.SaleDate)
		conds = append(conds, "sale_date >= "+arg(day), "sale_date < "+arg(day.Add(24*time.Hour)))
	}
	if q.SaleDateStart != nil {
		conds = append(conds, "sale_date >= "+arg(domain.StartOfDay(*q.SaleDateStart)))
	}
	if q.SaleDateEnd != nil {
		conds = append(conds, "sale_date < "+arg(domain.StartOfDay(*q.SaleDateEnd).Add(24*time.Hour)))
	}
	if q.IsCancelled != nil {
		status := domain.SaleStatusActive
		if *q.IsCancelled {
			status = domain.SaleStatusCancelled
		}
		conds = append(conds, "status = "+arg(string(status)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildSalePageQuery добавляет сортировку и пагинацию к отфильтрованной выборке.
func buildSalePageQuery(where string, args []any, q domain.ListQuery) (string, []any) {
	direction := "ASC"
	if q.Order == domain.SortDesc {
		direction = "DESC"
	}

	out := make([]any, 0, len(args)+2)
	out = append(out, args...)
	out = append(out, q.Size, q.Offset())

	query := fmt.Sprintf(
		"SELECT %s FROM sales%s ORDER BY sale_date %s, id %s LIMIT $%d OFFSET $%d",
		saleColumns, where, direction, direction, len(args)+1, len(args)+2,
	)
	return query, out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(v string) string {
	return "%" + likeEscaper.Replace(v) + "%"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.SaleRepository = (*saleRepository)(nil)
