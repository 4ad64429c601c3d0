package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store guarda la cantidad actual de cada recurso y entrega acceso
// exclusivo por recurso durante una decisión de asignación.
type Store struct {
	db             *sql.DB
	acquireTimeout time.Duration // 0 = sin límite de espera

	// Un token por recurso: canal con buffer 1. Recursos distintos
	// nunca se bloquean entre sí; el mismo recurso se serializa en
	// orden de llegada al canal.
	mu   sync.Mutex
	keys map[string]chan struct{}
}

func OpenDB(dbPath string) (*sql.DB, error) {
	// _pragma busy_timeout para evitar "database is locked"
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout=5000&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(2 * time.Minute)
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS resources(
  id           TEXT PRIMARY KEY,
  name         TEXT NOT NULL,
  quantity     INTEGER NOT NULL CHECK(quantity >= 0),
  created_unix INTEGER NOT NULL DEFAULT (strftime('%s','now')),
  updated_unix INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
CREATE TABLE IF NOT EXISTS allocations(
  id           TEXT PRIMARY KEY,
  resource_id  TEXT NOT NULL REFERENCES resources(id),
  qty          INTEGER NOT NULL,
  status       TEXT NOT NULL,
  reason       TEXT NOT NULL DEFAULT '',
  created_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alloc_created ON allocations(created_unix DESC);
CREATE INDEX IF NOT EXISTS idx_alloc_resource ON allocations(resource_id);
`
	_, err := db.Exec(schema)
	return err
}

func NewStore(db *sql.DB, acquireTimeout time.Duration) *Store {
	return &Store{
		db:             db,
		acquireTimeout: acquireTimeout,
		keys:           map[string]chan struct{}{},
	}
}

func (s *Store) key(resourceID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.keys[resourceID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.keys[resourceID] = ch
	}
	return ch
}

// Handle representa el acceso exclusivo a un recurso. Vive lo que dura
// una decisión: Commit o Rollback lo liberan, exactamente una vez.
type Handle struct {
	store      *Store
	resourceID string
	tx         *sql.Tx
	qty        int64
	done       bool
}

// AcquireExclusive bloquea cualquier otro acceso exclusivo al mismo
// recurso hasta Commit/Rollback. Devuelve ErrNotFound si el recurso no
// existe (liberando el acceso), ErrAcquireTimeout si se agota la espera
// configurada, o el error del contexto si el caller cancela antes.
func (s *Store) AcquireExclusive(ctx context.Context, resourceID string) (*Handle, error) {
	ch := s.key(resourceID)

	var timeout <-chan time.Time
	if s.acquireTimeout > 0 {
		t := time.NewTimer(s.acquireTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case ch <- struct{}{}:
	case <-timeout:
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		<-ch
		return nil, fmt.Errorf("begin allocation tx: %w", err)
	}
	var qty int64
	err = tx.QueryRowContext(ctx,
		`SELECT quantity FROM resources WHERE id=?`, resourceID).Scan(&qty)
	if err != nil {
		_ = tx.Rollback()
		<-ch
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read quantity: %w", err)
	}
	return &Handle{store: s, resourceID: resourceID, tx: tx, qty: qty}, nil
}

// Quantity: cantidad leída bajo el handle; válida mientras se sostenga.
func (h *Handle) Quantity() int64 { return h.qty }

// Deduct descuenta amount solo si quantity >= amount, atómico respecto
// a la lectura. El WHERE re-verifica la precondición: con acceso
// exclusivo no debería fallar nunca, pero se comprueba, no se asume.
func (h *Handle) Deduct(ctx context.Context, amount int64) error {
	res, err := h.tx.ExecContext(ctx, `
UPDATE resources
SET quantity = quantity - ?, updated_unix = strftime('%s','now')
WHERE id=? AND quantity >= ?`, amount, h.resourceID, amount)
	if err != nil {
		return fmt.Errorf("deduct: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deduct rows: %w", err)
	}
	if n != 1 {
		return ErrConflict{ResourceID: h.resourceID, Requested: amount}
	}
	h.qty -= amount
	return nil
}

// Commit hace durables todas las mutaciones del handle y libera el
// acceso exclusivo. El acceso se libera aunque el commit falle.
func (h *Handle) Commit() error {
	if h.done {
		return nil
	}
	err := h.tx.Commit()
	h.release()
	if err != nil {
		return fmt.Errorf("commit allocation: %w", err)
	}
	return nil
}

// Rollback descarta toda mutación pendiente y libera el acceso.
// Seguro de llamar en cualquier camino de salida; no-op tras Commit.
func (h *Handle) Rollback() {
	if h.done {
		return
	}
	_ = h.tx.Rollback()
	h.release()
}

func (h *Handle) release() {
	h.done = true
	<-h.store.key(h.resourceID)
}

// Lecturas sin lock, punto-en-el-tiempo, para monitoreo. La cantidad
// puede cambiar justo después de leerla.

func (s *Store) FindResource(ctx context.Context, id string) (*Resource, error) {
	var r Resource
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, quantity, created_unix, updated_unix
FROM resources WHERE id=?`, id).
		Scan(&r.ID, &r.Name, &r.Quantity, &r.CreatedUnix, &r.UpdatedUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListResources(ctx context.Context) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, quantity, created_unix, updated_unix
FROM resources ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Resource{}
	for rows.Next() {
		var r Resource
		if err := rows.Scan(&r.ID, &r.Name, &r.Quantity, &r.CreatedUnix, &r.UpdatedUnix); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateResource: aprovisionamiento. La cantidad inicial no puede ser
// negativa; ids duplicados se rechazan.
func (s *Store) CreateResource(ctx context.Context, id, name string, qty int64) (*Resource, error) {
	if qty < 0 {
		return nil, ErrInvalidQuantity
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO resources(id, name, quantity, created_unix, updated_unix)
VALUES(?,?,?,strftime('%s','now'),strftime('%s','now'))`, id, name, qty)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "constraint") {
			return nil, ErrResourceExists
		}
		return nil, err
	}
	return s.FindResource(ctx, id)
}

// seed inicial opcional (para pruebas locales)
func (s *Store) Seed(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt := `
INSERT INTO resources(id, name, quantity, created_unix, updated_unix)
VALUES(?,?,?,strftime('%s','now'),strftime('%s','now'))
ON CONFLICT(id) DO NOTHING;
`
	inserts := [][]any{
		{"gpu-a100", "GPU A100 80GB", 10},
		{"gpu-h100", "GPU H100", 5},
		{"cpu-node", "Nodo CPU 64c", 20},
		{"fpga-dev", "FPGA dev board", 1},
		{"lic-sim", "Licencia simulador", 0},
	}
	for _, v := range inserts {
		if _, err := tx.ExecContext(ctx, stmt, v...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
