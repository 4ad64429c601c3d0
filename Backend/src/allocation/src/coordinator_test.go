package main

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*sql.DB, *Store, *Ledger, *Coordinator) {
	t.Helper()
	db, s := newTestStore(t, 5*time.Second)
	l := NewLedger(db)
	return db, s, l, NewCoordinator(s, l, nil)
}

func ledgerCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM allocations`).Scan(&n))
	return n
}

func quantityOf(t *testing.T, s *Store, id string) int64 {
	t.Helper()
	r, err := s.FindResource(context.Background(), id)
	require.NoError(t, err)
	return r.Quantity
}

// Escenario A: 5 → asignar 3 ok → asignar 3 insuficiente (quedan 2) →
// asignar 2 ok → quedan 0.
func TestAllocateSequentialScenario(t *testing.T) {
	_, s, _, c := newTestCoordinator(t)
	ctx := context.Background()
	mustResource(t, s, "r1", 5)

	a, err := c.Allocate(ctx, "r1", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, a.Status)
	assert.Equal(t, int64(3), a.Qty)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, int64(2), quantityOf(t, s, "r1"))

	_, err = c.Allocate(ctx, "r1", 3)
	var ins ErrInsufficient
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, int64(2), ins.Available)
	assert.Equal(t, int64(3), ins.Requested)
	assert.Equal(t, int64(2), quantityOf(t, s, "r1"))

	a, err = c.Allocate(ctx, "r1", 2)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, a.Status)
	assert.Equal(t, int64(0), quantityOf(t, s, "r1"))
}

// Borde: asignar exactamente lo disponible deja 0; la siguiente de 1
// falla con disponible 0.
func TestAllocateExactBoundary(t *testing.T) {
	_, s, _, c := newTestCoordinator(t)
	ctx := context.Background()
	mustResource(t, s, "r1", 4)

	_, err := c.Allocate(ctx, "r1", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), quantityOf(t, s, "r1"))

	_, err = c.Allocate(ctx, "r1", 1)
	var ins ErrInsufficient
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, int64(0), ins.Available)
}

func TestAllocateInvalidQuantity(t *testing.T) {
	db, s, _, c := newTestCoordinator(t)
	ctx := context.Background()
	mustResource(t, s, "r1", 5)

	for _, qty := range []int64{0, -1, -100} {
		_, err := c.Allocate(ctx, "r1", qty)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}
	// sin mutación ni registro en el ledger
	assert.Equal(t, int64(5), quantityOf(t, s, "r1"))
	assert.Equal(t, 0, ledgerCount(t, db))
}

func TestAllocateUnknownResource(t *testing.T) {
	db, s, _, c := newTestCoordinator(t)
	ctx := context.Background()
	mustResource(t, s, "r1", 5)

	_, err := c.Allocate(ctx, "ghost", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	// recursos intactos, ledger sin entradas
	out, err := s.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(5), out[0].Quantity)
	assert.Equal(t, 0, ledgerCount(t, db))
}

// Política de ledger: insuficiente escribe un registro rejected con el
// motivo; la cantidad no cambia.
func TestInsufficientWritesRejectedEntry(t *testing.T) {
	_, s, l, c := newTestCoordinator(t)
	ctx := context.Background()
	mustResource(t, s, "r1", 2)

	_, err := c.Allocate(ctx, "r1", 9)
	var ins ErrInsufficient
	require.ErrorAs(t, err, &ins)

	entries, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusRejected, entries[0].Status)
	assert.Equal(t, "r1", entries[0].ResourceID)
	assert.Equal(t, int64(9), entries[0].Qty)
	assert.Contains(t, entries[0].Reason, "available 2")
	assert.Equal(t, int64(2), quantityOf(t, s, "r1"))
}

func TestAllocateRecordsConfirmedEntry(t *testing.T) {
	_, s, l, c := newTestCoordinator(t)
	ctx := context.Background()
	mustResource(t, s, "r1", 5)

	a, err := c.Allocate(ctx, "r1", 2)
	require.NoError(t, err)

	got, err := l.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, int64(2), got.Qty)
	assert.Equal(t, "recurso r1", got.ResourceName)
}

// Escenario B: cantidad 5, tres llamadas concurrentes [3,3,2]. La suma
// de éxitos nunca supera 5 y al final quantity = 5 - confirmadas.
func TestAllocateConcurrentMixedSizes(t *testing.T) {
	db, s, _, c := newTestCoordinator(t)
	ctx := context.Background()
	mustResource(t, s, "r1", 5)

	sizes := []int64{3, 3, 2}
	results := make([]error, len(sizes))
	var wg sync.WaitGroup
	for i, q := range sizes {
		wg.Add(1)
		go func(i int, q int64) {
			defer wg.Done()
			_, results[i] = c.Allocate(ctx, "r1", q)
		}(i, q)
	}
	wg.Wait()

	var granted int64
	for i, err := range results {
		if err == nil {
			granted += sizes[i]
		} else {
			var ins ErrInsufficient
			require.ErrorAs(t, err, &ins, "unexpected error kind: %v", err)
		}
	}
	assert.LessOrEqual(t, granted, int64(5))
	assert.Equal(t, int64(5)-granted, quantityOf(t, s, "r1"))

	// el ledger concuerda: suma de confirmadas == otorgado
	var sum sql.NullInt64
	require.NoError(t, db.QueryRow(
		`SELECT SUM(qty) FROM allocations WHERE status=?`, StatusConfirmed).Scan(&sum))
	assert.Equal(t, granted, sum.Int64)
}

// N llamadas concurrentes de 1 unidad contra Q=5: exactamente 5 ganan,
// la cantidad nunca queda negativa.
func TestNoOverAllocationUnderLoad(t *testing.T) {
	db, s, _, c := newTestCoordinator(t)
	ctx := context.Background()
	mustResource(t, s, "r1", 5)

	const callers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	confirmed := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Allocate(ctx, "r1", 1); err == nil {
				mu.Lock()
				confirmed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, confirmed)
	assert.Equal(t, int64(0), quantityOf(t, s, "r1"))

	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(1) FROM allocations WHERE status=?`, StatusConfirmed).Scan(&n))
	assert.Equal(t, 5, n)
}

// Recursos distintos no comparten orden ni estado: asignaciones
// concurrentes sobre ids diferentes terminan todas bien.
func TestAllocateDistinctResourcesConcurrently(t *testing.T) {
	_, s, _, c := newTestCoordinator(t)
	ctx := context.Background()
	mustResource(t, s, "a", 3)
	mustResource(t, s, "b", 3)
	mustResource(t, s, "c", 3)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = c.Allocate(ctx, id, 3)
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, int64(0), quantityOf(t, s, id))
	}
}

func TestAllocateTimesOutWithoutMutating(t *testing.T) {
	db, s0 := newTestStore(t, 100*time.Millisecond)
	l := NewLedger(db)
	c := NewCoordinator(s0, l, nil)
	ctx := context.Background()
	mustResource(t, s0, "r1", 5)

	h, err := s0.AcquireExclusive(ctx, "r1")
	require.NoError(t, err)

	_, err = c.Allocate(ctx, "r1", 1)
	assert.ErrorIs(t, err, ErrAcquireTimeout)

	h.Rollback()
	assert.Equal(t, int64(5), quantityOf(t, s0, "r1"))
	assert.Equal(t, 0, ledgerCount(t, db))
}

func TestAllocateAfterStorageFailure(t *testing.T) {
	db, s, _, c := newTestCoordinator(t)
	mustResource(t, s, "r1", 5)
	require.NoError(t, db.Close())

	_, err := c.Allocate(context.Background(), "r1", 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidQuantity)

	// el acceso exclusivo quedó liberado pese al fallo de storage
	_, err = c.Allocate(context.Background(), "r1", 1)
	require.Error(t, err)
}
