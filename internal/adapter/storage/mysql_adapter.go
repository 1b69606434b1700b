package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/port"
)

const (
	errDuplicateEntry = 1062
	errLockDeadlock   = 1213
)

type MySQLStore struct {
	db *sqlx.DB
}

var _ port.Store = (*MySQLStore)(nil)

func NewMySQLStore(db *sqlx.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// RunInTx uses READ COMMITTED so a read issued after a FOR UPDATE lock sees
// what the previous lock holder committed.
func (m *MySQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{q: tx}); err != nil {
		return deadlockAsConflict(err)
	}
	return deadlockAsConflict(errors.Wrap(tx.Commit(), "commit"))
}

// deadlockAsConflict lets callers retry a transaction InnoDB picked as a
// deadlock victim.
func deadlockAsConflict(err error) error {
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) && me.Number == errLockDeadlock {
		return fmt.Errorf("%w: %v", ErrOptimisticLock, err)
	}
	return err
}

// View runs fn inside a read-only transaction so every read sees the same snapshot.
func (m *MySQLStore) View(ctx context.Context, fn func(ctx context.Context, r port.Reader) error) error {
	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return errors.Wrap(err, "begin read tx")
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{q: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit read tx")
}

func (m *MySQLStore) SaveProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, tracked) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE sku = VALUES(sku), tracked = VALUES(tracked)`,
		p.ID, p.SKU, p.Tracked,
	)
	return errors.Wrap(err, "save product")
}

func (m *MySQLStore) SavePurchase(ctx context.Context, p domain.Purchase) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO purchases (id, location, status) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE location = VALUES(location), status = VALUES(status), updated_at = NOW(6)`,
		p.ID, p.Location, p.Status,
	)
	return errors.Wrap(err, "save purchase")
}

func (m *MySQLStore) SavePurchaseLine(ctx context.Context, l domain.PurchaseLine) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO purchase_lines (id, purchase_id, product_id, quantity, unit_price) VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), unit_price = VALUES(unit_price), updated_at = NOW(6)`,
		l.ID, l.PurchaseID, l.ProductID, l.Quantity, l.UnitPrice,
	)
	return errors.Wrap(err, "save purchase line")
}

// Ping reports whether the database answers.
func (m *MySQLStore) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

type mysqlTx struct {
	q queryer
}

type unitRow struct {
	ID         string         `db:"id"`
	Code       string         `db:"code"`
	ShortCode  sql.NullString `db:"short_code"`
	Tag        string         `db:"tag"`
	ProductID  string         `db:"product_id"`
	Location   string         `db:"location"`
	LineID     sql.NullString `db:"line_id"`
	PurchaseID sql.NullString `db:"purchase_id"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r unitRow) toDomain() (domain.Unit, error) {
	tag, err := domain.ParseTag(r.Tag)
	if err != nil {
		return domain.Unit{}, err
	}
	return domain.Unit{
		ID:         r.ID,
		Code:       r.Code,
		ShortCode:  r.ShortCode.String,
		Tag:        tag,
		ProductID:  r.ProductID,
		Location:   r.Location,
		LineID:     r.LineID.String,
		PurchaseID: r.PurchaseID.String,
		CreatedAt:  r.CreatedAt.UTC(),
	}, nil
}

const unitColumns = `u.id, u.code, u.short_code, u.tag, u.product_id, u.location, u.line_id, u.purchase_id, u.created_at`

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func notFound(err error, sentinel error, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return err
}

func (t *mysqlTx) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, t.q, &exists, `SELECT EXISTS(SELECT 1 FROM units WHERE code = ?)`, code)
	return exists, errors.Wrap(err, "query code")
}

func (t *mysqlTx) ShortCodeExists(ctx context.Context, shortCode string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, t.q, &exists, `SELECT EXISTS(SELECT 1 FROM units WHERE short_code = ?)`, shortCode)
	return exists, errors.Wrap(err, "query short code")
}

func (t *mysqlTx) getProduct(ctx context.Context, id string, lock bool) (*domain.Product, error) {
	query := `SELECT id, sku, tracked FROM products WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	var p domain.Product
	if err := sqlx.GetContext(ctx, t.q, &p, query, id); err != nil {
		return nil, notFound(errors.Wrap(err, "query product"), domain.ErrProductNotFound, id)
	}
	return &p, nil
}

func (t *mysqlTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return t.getProduct(ctx, id, false)
}

func (t *mysqlTx) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	return t.getProduct(ctx, id, true)
}

func (t *mysqlTx) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	err := sqlx.SelectContext(ctx, t.q, &out, `SELECT id, sku, tracked FROM products ORDER BY id`)
	return out, errors.Wrap(err, "query products")
}

func (t *mysqlTx) getPurchase(ctx context.Context, id string, lock bool) (*domain.Purchase, error) {
	query := `SELECT id, location, status, created_at, updated_at FROM purchases WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	var p domain.Purchase
	if err := sqlx.GetContext(ctx, t.q, &p, query, id); err != nil {
		return nil, notFound(errors.Wrap(err, "query purchase"), domain.ErrPurchaseNotFound, id)
	}
	return &p, nil
}

func (t *mysqlTx) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return t.getPurchase(ctx, id, false)
}

func (t *mysqlTx) LockPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return t.getPurchase(ctx, id, true)
}

const lineColumns = `l.id, l.purchase_id, l.product_id, l.quantity, l.unit_price, l.created_at, l.updated_at`

func (t *mysqlTx) getLine(ctx context.Context, id string, lock bool) (*domain.PurchaseLine, error) {
	query := `SELECT ` + lineColumns + ` FROM purchase_lines l WHERE l.id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	var l domain.PurchaseLine
	if err := sqlx.GetContext(ctx, t.q, &l, query, id); err != nil {
		return nil, notFound(errors.Wrap(err, "query purchase line"), domain.ErrLineNotFound, id)
	}
	return &l, nil
}

func (t *mysqlTx) GetPurchaseLine(ctx context.Context, id string) (*domain.PurchaseLine, error) {
	return t.getLine(ctx, id, false)
}

func (t *mysqlTx) LockPurchaseLine(ctx context.Context, id string) (*domain.PurchaseLine, error) {
	return t.getLine(ctx, id, true)
}

func (t *mysqlTx) ListPurchaseLines(ctx context.Context, purchaseID string) ([]domain.PurchaseLine, error) {
	var out []domain.PurchaseLine
	err := sqlx.SelectContext(ctx, t.q, &out, `
		SELECT `+lineColumns+` FROM purchase_lines l
		WHERE l.purchase_id = ? ORDER BY l.created_at, l.id`, purchaseID)
	return out, errors.Wrap(err, "query purchase lines")
}

func (t *mysqlTx) ListLinesByProduct(ctx context.Context, productID string, status domain.PurchaseStatus) ([]domain.PurchaseLine, error) {
	var out []domain.PurchaseLine
	err := sqlx.SelectContext(ctx, t.q, &out, `
		SELECT `+lineColumns+` FROM purchase_lines l
		JOIN purchases p ON p.id = l.purchase_id
		WHERE l.product_id = ? AND p.status = ?
		ORDER BY l.created_at, l.id`, productID, status)
	return out, errors.Wrap(err, "query lines by product")
}

func (t *mysqlTx) getUnit(ctx context.Context, code string, lock bool) (*domain.Unit, error) {
	query := `SELECT ` + unitColumns + ` FROM units u WHERE u.code = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	var row unitRow
	if err := sqlx.GetContext(ctx, t.q, &row, query, code); err != nil {
		return nil, notFound(errors.Wrap(err, "query unit"), domain.ErrUnitNotFound, code)
	}
	u, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *mysqlTx) GetUnitByCode(ctx context.Context, code string) (*domain.Unit, error) {
	return t.getUnit(ctx, code, false)
}

func (t *mysqlTx) LockUnit(ctx context.Context, code string) (*domain.Unit, error) {
	return t.getUnit(ctx, code, true)
}

// unitQuery builds the FROM/WHERE part shared by listing and counting.
func unitQuery(selectClause string, f domain.UnitFilter) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	from := `units u`
	if f.ExcludeDraft {
		from += ` LEFT JOIN purchases p ON p.id = u.purchase_id`
		where = append(where, `(p.id IS NULL OR p.status <> ?)`)
		args = append(args, domain.PurchaseStatusDraft)
	}
	if f.ProductID != "" {
		where = append(where, `u.product_id = ?`)
		args = append(args, f.ProductID)
	}
	if f.Location != "" {
		where = append(where, `u.location = ?`)
		args = append(args, f.Location)
	}
	if f.LineID != "" {
		where = append(where, `u.line_id = ?`)
		args = append(args, f.LineID)
	}
	if len(f.Tags) > 0 {
		names := make([]string, len(f.Tags))
		for i, tag := range f.Tags {
			names[i] = tag.String()
		}
		where = append(where, `u.tag IN (?)`)
		args = append(args, names)
	}

	query := `SELECT ` + selectClause + ` FROM ` + from
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	if len(f.Tags) == 0 {
		return query, args, nil
	}
	return sqlx.In(query, args...)
}

func (t *mysqlTx) ListUnits(ctx context.Context, filter domain.UnitFilter) ([]domain.Unit, error) {
	query, args, err := unitQuery(unitColumns, filter)
	if err != nil {
		return nil, errors.Wrap(err, "build unit query")
	}
	query += ` ORDER BY u.created_at, u.seq`

	var rows []unitRow
	if err := sqlx.SelectContext(ctx, t.q, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "query units")
	}

	units := make([]domain.Unit, 0, len(rows))
	for _, row := range rows {
		u, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func (t *mysqlTx) CountUnits(ctx context.Context, filter domain.UnitFilter) (int, error) {
	query, args, err := unitQuery(`COUNT(*)`, filter)
	if err != nil {
		return 0, errors.Wrap(err, "build unit query")
	}
	var n int
	err = sqlx.GetContext(ctx, t.q, &n, query, args...)
	return n, errors.Wrap(err, "count units")
}

func (t *mysqlTx) GetStock(ctx context.Context, productID, location string) (*domain.StockLevel, error) {
	var s domain.StockLevel
	err := sqlx.GetContext(ctx, t.q, &s, `
		SELECT product_id, location, on_hand, version, updated_at
		FROM stock_levels WHERE product_id = ? AND location = ?`, productID, location)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.StockLevel{ProductID: productID, Location: location}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query stock")
	}
	return &s, nil
}

func (t *mysqlTx) ListStock(ctx context.Context, productID string) ([]domain.StockLevel, error) {
	var out []domain.StockLevel
	err := sqlx.SelectContext(ctx, t.q, &out, `
		SELECT product_id, location, on_hand, version, updated_at
		FROM stock_levels WHERE product_id = ? ORDER BY location`, productID)
	return out, errors.Wrap(err, "query stock levels")
}

// LockStock makes sure the row exists, then locks it until the transaction ends.
func (t *mysqlTx) LockStock(ctx context.Context, productID, location string) (*domain.StockLevel, error) {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO stock_levels (product_id, location, on_hand, version) VALUES (?, ?, 0, 0)
		ON DUPLICATE KEY UPDATE product_id = product_id`, productID, location)
	if err != nil {
		return nil, errors.Wrap(err, "ensure stock row")
	}

	var s domain.StockLevel
	err = sqlx.GetContext(ctx, t.q, &s, `
		SELECT product_id, location, on_hand, version, updated_at
		FROM stock_levels WHERE product_id = ? AND location = ? FOR UPDATE`, productID, location)
	if err != nil {
		return nil, errors.Wrap(err, "lock stock")
	}
	return &s, nil
}

func (t *mysqlTx) InsertUnit(ctx context.Context, u domain.Unit) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO units (id, code, short_code, tag, product_id, location, line_id, purchase_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Code, nullable(u.ShortCode), u.Tag.String(), u.ProductID, u.Location,
		nullable(u.LineID), nullable(u.PurchaseID), u.CreatedAt,
	)
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) && me.Number == errDuplicateEntry {
		return fmt.Errorf("%w: %s", ErrDuplicateCode, u.Code)
	}
	return errors.Wrap(err, "insert unit")
}

func (t *mysqlTx) UpdateUnitTag(ctx context.Context, unitID string, tag domain.Tag) error {
	result, err := t.q.ExecContext(ctx, `UPDATE units SET tag = ? WHERE id = ?`, tag.String(), unitID)
	if err != nil {
		return errors.Wrap(err, "update unit tag")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrUnitNotFound, unitID)
	}
	return nil
}

func (t *mysqlTx) DeleteUnits(ctx context.Context, unitIDs []string) error {
	if len(unitIDs) == 0 {
		return nil
	}
	// Sold units are excluded here as well as by the selection policy.
	query, args, err := sqlx.In(`DELETE FROM units WHERE id IN (?) AND tag <> ?`, unitIDs, domain.TagSold.String())
	if err != nil {
		return errors.Wrap(err, "build delete")
	}
	result, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "delete units")
	}
	rows, _ := result.RowsAffected()
	if int(rows) != len(unitIDs) {
		return ErrOptimisticLock
	}
	return nil
}

func (t *mysqlTx) UpdatePurchaseStatus(ctx context.Context, id string, status domain.PurchaseStatus) error {
	_, err := t.q.ExecContext(ctx, `UPDATE purchases SET status = ?, updated_at = NOW(6) WHERE id = ?`, status, id)
	return errors.Wrap(err, "update purchase status")
}

func (t *mysqlTx) UpdateLineQuantity(ctx context.Context, id string, quantity int) error {
	_, err := t.q.ExecContext(ctx, `UPDATE purchase_lines SET quantity = ?, updated_at = NOW(6) WHERE id = ?`, quantity, id)
	return errors.Wrap(err, "update line quantity")
}

func (t *mysqlTx) SaveStock(ctx context.Context, s domain.StockLevel) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE stock_levels
		SET on_hand = ?, version = version + 1, updated_at = NOW(6)
		WHERE product_id = ? AND location = ? AND version = ?`,
		s.OnHand, s.ProductID, s.Location, s.Version,
	)
	if err != nil {
		return errors.Wrap(err, "update stock")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}
	return nil
}
