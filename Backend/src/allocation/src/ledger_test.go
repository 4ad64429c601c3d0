package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerAppendAssignsIdentity(t *testing.T) {
	db, s := newTestStore(t, time.Second)
	l := NewLedger(db)
	ctx := context.Background()
	mustResource(t, s, "r1", 5)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	a, err := l.Append(ctx, tx, &Allocation{
		ResourceID: "r1", Qty: 2, Status: StatusConfirmed,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.NotEmpty(t, a.ID)
	assert.NotZero(t, a.CreatedUnix)

	got, err := l.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, "recurso r1", got.ResourceName)
}

func TestLedgerAppendRollsBackWithTx(t *testing.T) {
	db, s := newTestStore(t, time.Second)
	l := NewLedger(db)
	ctx := context.Background()
	mustResource(t, s, "r1", 5)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	a, err := l.Append(ctx, tx, &Allocation{
		ResourceID: "r1", Qty: 2, Status: StatusConfirmed,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	// sin commit no hay entrada huérfana
	_, err = l.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrAllocationNotFound)
}

func TestLedgerGetUnknown(t *testing.T) {
	db := newTestDB(t)
	l := NewLedger(db)

	_, err := l.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAllocationNotFound)
}

func TestLedgerListNewestFirst(t *testing.T) {
	db, s := newTestStore(t, time.Second)
	l := NewLedger(db)
	ctx := context.Background()
	mustResource(t, s, "r1", 5)

	// created_unix explícito para fijar el orden
	rows := []struct {
		id      string
		created int64
		status  string
	}{
		{"a-old", 100, StatusConfirmed},
		{"a-mid", 200, StatusRejected},
		{"a-new", 300, StatusConfirmed},
	}
	for _, r := range rows {
		_, err := db.ExecContext(ctx, `
INSERT INTO allocations(id, resource_id, qty, status, reason, created_unix)
VALUES(?,?,?,?,?,?)`, r.id, "r1", 1, r.status, "", r.created)
		require.NoError(t, err)
	}

	out, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "a-new", out[0].ID)
	assert.Equal(t, "a-mid", out[1].ID)
	assert.Equal(t, "a-old", out[2].ID)
	for _, a := range out {
		assert.Equal(t, "recurso r1", a.ResourceName)
	}
}
