package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// outputRow is the SQL representation of an UnspentOutput.
type outputRow struct {
	ID            uint       `gorm:"primarykey"`
	TxID          string     `gorm:"column:tx_id;size:64;uniqueIndex:idx_outpoint"`
	Vout          uint32     `gorm:"column:vout;uniqueIndex:idx_outpoint"`
	Satoshis      uint64     `gorm:"column:satoshis;index"`
	LockingScript []byte     `gorm:"column:locking_script"`
	OwnerAddress  string     `gorm:"column:owner_address;index:idx_owner_status"`
	Status        uint8      `gorm:"column:status;index:idx_owner_status"`
	Source        uint8      `gorm:"column:source"`
	DiscoveredAt  time.Time  `gorm:"column:discovered_at"`
	ReservedAt    *time.Time `gorm:"column:reserved_at"`
	SpentAt       *time.Time `gorm:"column:spent_at;index"`
	SpendingTxID  string     `gorm:"column:spending_tx_id"`
}

func (outputRow) TableName() string {
	return "ledger_output"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func rowFromOutput(u *UnspentOutput) *outputRow {
	return &outputRow{
		TxID:          u.TxID,
		Vout:          u.Vout,
		Satoshis:      u.Satoshis,
		LockingScript: u.LockingScript,
		OwnerAddress:  u.OwnerAddress,
		Status:        uint8(u.Status),
		Source:        uint8(u.Source),
		DiscoveredAt:  u.DiscoveredAt.UTC(),
		ReservedAt:    utcPtr(u.ReservedAt),
		SpentAt:       utcPtr(u.SpentAt),
		SpendingTxID:  u.SpendingTxID,
	}
}

func (r *outputRow) output() *UnspentOutput {
	return &UnspentOutput{
		Outpoint:      Outpoint{TxID: r.TxID, Vout: r.Vout},
		Satoshis:      r.Satoshis,
		LockingScript: r.LockingScript,
		OwnerAddress:  r.OwnerAddress,
		Status:        Status(r.Status),
		Source:        Source(r.Source),
		DiscoveredAt:  r.DiscoveredAt,
		ReservedAt:    r.ReservedAt,
		SpentAt:       r.SpentAt,
		SpendingTxID:  r.SpendingTxID,
	}
}

// SQLStore persists outputs in SQLite through gorm. Status changes are
// conditional UPDATEs guarded by the previously observed status, so a lost
// race shows up as zero affected rows.
type SQLStore struct {
	db *gorm.DB
}

// Compile-time interface check.
var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens a SQLite ledger in dataDir. An empty dataDir opens a
// private in-memory database, useful for tests.
func OpenSQLStore(dataDir string) (*SQLStore, error) {
	var dsn string
	if dataDir == "" {
		dsn = fmt.Sprintf("file:ledger-%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("ledger: read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return nil, fmt.Errorf("ledger: create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
			filepath.Join(dataDir, "ledger.sqlite"),
		)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ledger: sqlite handle: %w", err)
	}
	// SQLite allows one writer; a single connection keeps writers queued
	// in-process instead of failing with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&outputRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// statusValues widens statuses to int. gorm binds a []uint8 as a single
// blob instead of expanding it into an IN list.
func statusValues(statuses []Status) []int {
	vals := make([]int, len(statuses))
	for i, st := range statuses {
		vals[i] = int(st)
	}
	return vals
}

func findRow(db *gorm.DB, key Outpoint) (*outputRow, error) {
	var row outputRow
	err := db.Where("tx_id = ? AND vout = ?", key.TxID, key.Vout).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("sqlstore: get %s: %w", key, err)
	}
	return &row, nil
}

func insertRow(db *gorm.DB, out *UnspentOutput) (bool, error) {
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(rowFromOutput(out))
	if res.Error != nil {
		return false, fmt.Errorf("sqlstore: insert %s: %w", out.Outpoint, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Insert stores out unless its outpoint already exists.
func (s *SQLStore) Insert(ctx context.Context, out *UnspentOutput) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return insertRow(s.db.WithContext(ctx), out)
}

// Add stores out, failing with ErrAlreadyExists if the outpoint exists.
func (s *SQLStore) Add(ctx context.Context, out *UnspentOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inserted, err := insertRow(s.db.WithContext(ctx), out)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, out.Outpoint)
	}
	return nil
}

// Get returns a copy of the output stored under key.
func (s *SQLStore) Get(ctx context.Context, key Outpoint) (*UnspentOutput, error) {
	row, err := findRow(s.db.WithContext(ctx), key)
	if err != nil {
		return nil, err
	}
	return row.output(), nil
}

// List returns all outputs matching f.
func (s *SQLStore) List(ctx context.Context, f Filter) ([]*UnspentOutput, error) {
	q := s.db.WithContext(ctx).Model(&outputRow{})
	if f.Address != "" {
		q = q.Where("owner_address = ?", f.Address)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusValues(f.Statuses))
	}
	if f.MinAmount > 0 {
		q = q.Where("satoshis >= ?", f.MinAmount)
	}
	if f.Order == Descending {
		q = q.Order("satoshis DESC")
	} else {
		q = q.Order("satoshis ASC")
	}
	q = q.Order("tx_id ASC").Order("vout ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []outputRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list outputs: %w", err)
	}
	outs := make([]*UnspentOutput, len(rows))
	for i := range rows {
		outs[i] = rows[i].output()
	}
	return outs, nil
}

// casUpdate writes after over the row only if the row still has status
// observed. It reports whether the row was updated.
func casUpdate(tx *gorm.DB, id uint, observed Status, after *UnspentOutput) (bool, error) {
	res := tx.Model(&outputRow{}).
		Where("id = ? AND status = ?", id, uint8(observed)).
		Updates(map[string]any{
			"status":         uint8(after.Status),
			"reserved_at":    utcPtr(after.ReservedAt),
			"spent_at":       utcPtr(after.SpentAt),
			"spending_tx_id": after.SpendingTxID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func transitionRow(tx *gorm.DB, key Outpoint, from []Status, to Status, fn Mutation) (*UnspentOutput, *UnspentOutput, error) {
	row, err := findRow(tx, key)
	if err != nil {
		return nil, nil, err
	}
	before := row.output()
	if !slices.Contains(from, before.Status) {
		return before, nil, transitionError(key, before.Status, to)
	}
	after := before.Clone()
	after.Status = to
	if fn != nil {
		fn(after)
	}
	ok, err := casUpdate(tx, row.ID, before.Status, after)
	if err != nil {
		return before, nil, fmt.Errorf("sqlstore: update %s: %w", key, err)
	}
	if !ok {
		current, err := findRow(tx, key)
		if err != nil {
			return before, nil, err
		}
		return before, nil, transitionError(key, Status(current.Status), to)
	}
	return before, after, nil
}

// Transition is the compare-and-set primitive.
func (s *SQLStore) Transition(ctx context.Context, key Outpoint, from []Status, to Status, fn Mutation) (*UnspentOutput, *UnspentOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return transitionRow(s.db.WithContext(ctx), key, from, to, fn)
}

// Commit applies the reconciliation step in one SQL transaction.
func (s *SQLStore) Commit(ctx context.Context, spent []Outpoint, spendingTxID string, at time.Time, added []*UnspentOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mark := spendMutation(spendingTxID, at)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range spent {
			if _, _, err := transitionRow(tx, key, []Status{StatusReserved, StatusAvailable}, StatusSpent, mark); err != nil {
				return err
			}
		}
		for _, out := range added {
			inserted, err := insertRow(tx, out)
			if err != nil {
				return err
			}
			if !inserted {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, out.Outpoint)
			}
		}
		return nil
	})
}

// DeleteConfirmedSpent removes aged ConfirmedSpent outputs.
func (s *SQLStore) DeleteConfirmedSpent(ctx context.Context, before time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND spent_at IS NOT NULL AND spent_at < ?", uint8(StatusConfirmedSpent), before.UTC()).
		Delete(&outputRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("sqlstore: cleanup: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}
