package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/txledger/internal/testutil"
	"github.com/smallbiznis/txledger/internal/transaction/domain"
	"github.com/smallbiznis/txledger/internal/transaction/repository"
	"github.com/smallbiznis/txledger/internal/transaction/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var t0 = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

type fixture struct {
	db   *gorm.DB
	repo domain.Repository
	node *snowflake.Node
}

func newFixture(t *testing.T) fixture {
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	return fixture{
		db:   testutil.NewDB(t),
		repo: repository.New(repository.Options{}),
		node: node,
	}
}

func (f fixture) candidate(externalID string, eventCount int, stateName string) *domain.Transaction {
	amount := int64(1000)
	tx := &domain.Transaction{
		ID:                 f.node.Generate(),
		ExternalID:         externalID,
		GatewayAccountID:   "acc_1",
		Type:               state.KindPayment,
		State:              stateName,
		EventCount:         eventCount,
		CreatedDate:        t0,
		Amount:             &amount,
		Reference:          "REF-" + externalID,
		TransactionDetails: datatypes.JSON(`{}`),
		UpdatedAt:          t0,
	}
	tx.ContentHash = tx.ComputeContentHash()
	return tx
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.repo.Upsert(ctx, f.db, f.candidate("pay_1", 1, "CREATED"))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertInserted, out.Result)

	stored, err := f.repo.FindByExternalID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	firstID := stored.ID

	out, err = f.repo.Upsert(ctx, f.db, f.candidate("pay_1", 2, "SUCCESS"))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, out.Result)
	assert.Equal(t, 2, out.StoredEventCount)

	stored, err = f.repo.FindByExternalID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, firstID, stored.ID)
	assert.Equal(t, "SUCCESS", stored.State)
	assert.Equal(t, 2, stored.EventCount)
	assert.True(t, t0.Equal(stored.CreatedDate))
	require.NotNil(t, stored.Amount)
	assert.Equal(t, int64(1000), *stored.Amount)
}

func TestUpsertRejectsStaleReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.repo.Upsert(ctx, f.db, f.candidate("pay_1", 5, "SUCCESS"))
	require.NoError(t, err)

	out, err := f.repo.Upsert(ctx, f.db, f.candidate("pay_1", 3, "SUBMITTED"))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertSkipped, out.Result)
	assert.Equal(t, domain.SkipStale, out.SkipReason)
	assert.Equal(t, 5, out.StoredEventCount)

	stored, err := f.repo.FindByExternalID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.EventCount)
	assert.Equal(t, "SUCCESS", stored.State)
}

func TestUpsertEqualCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.repo.Upsert(ctx, f.db, f.candidate("pay_1", 2, "SUBMITTED"))
	require.NoError(t, err)

	out, err := f.repo.Upsert(ctx, f.db, f.candidate("pay_1", 2, "SUBMITTED"))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertSkipped, out.Result)
	assert.Equal(t, domain.SkipUnchanged, out.SkipReason)

	changed := f.candidate("pay_1", 2, "SUBMITTED")
	changed.Reference = "REF-other"
	changed.ContentHash = changed.ComputeContentHash()
	out, err = f.repo.Upsert(ctx, f.db, changed)
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, out.Result)

	stored, err := f.repo.FindByExternalID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "REF-other", stored.Reference)
}

func TestUpsertIdentityConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.repo.Upsert(ctx, f.db, f.candidate("pay_1", 1, "CREATED"))
	require.NoError(t, err)

	other := f.candidate("pay_1", 2, "SUCCESS")
	other.GatewayAccountID = "acc_2"
	_, err = f.repo.Upsert(ctx, f.db, other)
	assert.ErrorIs(t, err, domain.ErrIdentityConflict)

	refund := f.candidate("pay_1", 2, "SUCCESS")
	refund.Type = state.KindRefund
	_, err = f.repo.Upsert(ctx, f.db, refund)
	assert.ErrorIs(t, err, domain.ErrIdentityConflict)
}

func TestUpsertKeepsAccountWhenCandidateHasNone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.repo.Upsert(ctx, f.db, f.candidate("pay_1", 1, "CREATED"))
	require.NoError(t, err)

	anonymous := f.candidate("pay_1", 2, "STARTED")
	anonymous.GatewayAccountID = ""
	_, err = f.repo.Upsert(ctx, f.db, anonymous)
	require.NoError(t, err)

	stored, err := f.repo.FindByExternalID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "acc_1", stored.GatewayAccountID)
	assert.Equal(t, "STARTED", stored.State)
}

func TestUpsertConcurrentWritersNeverRegress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	for count := 1; count <= 8; count++ {
		wg.Add(1)
		go func(count int) {
			defer wg.Done()
			_, err := f.repo.Upsert(ctx, f.db, f.candidate("pay_race", count, "SUBMITTED"))
			assert.NoError(t, err)
		}(count)
	}
	wg.Wait()

	stored, err := f.repo.FindByExternalID(ctx, f.db, "pay_race")
	require.NoError(t, err)
	assert.Equal(t, 8, stored.EventCount)

	var rows int64
	require.NoError(t, f.db.Raw("SELECT COUNT(1) FROM transactions").Scan(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestFindByExternalIDMissing(t *testing.T) {
	f := newFixture(t)
	item, err := f.repo.FindByExternalID(context.Background(), f.db, "nope")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestUpdateRedacted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tx := f.candidate("pay_1", 1, "CREATED")
	tx.Email = "someone@example.com"
	_, err := f.repo.Upsert(ctx, f.db, tx)
	require.NoError(t, err)

	stored, err := f.repo.FindByExternalID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	stored.Email = "<DELETED>"
	stored.ContentHash = stored.ComputeContentHash()
	stored.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, f.repo.UpdateRedacted(ctx, f.db, stored))

	stored, err = f.repo.FindByExternalID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "<DELETED>", stored.Email)
	assert.Equal(t, stored.ComputeContentHash(), stored.ContentHash)

	missing := *stored
	missing.ID = f.node.Generate()
	assert.ErrorIs(t, f.repo.UpdateRedacted(ctx, f.db, &missing), domain.ErrNotFound)
}

func TestLockByExternalID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.repo.Upsert(ctx, f.db, f.candidate("pay_1", 2, "SUCCESS"))
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		locked, err := f.repo.LockByExternalID(ctx, tx, "pay_1")
		require.NoError(t, err)
		require.NotNil(t, locked)
		assert.Equal(t, 2, locked.EventCount)

		missing, err := f.repo.LockByExternalID(ctx, tx, "pay_404")
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	})
	require.NoError(t, err)
}

func seed(t *testing.T, f fixture, n int, mutate func(i int, tx *domain.Transaction)) []*domain.Transaction {
	t.Helper()
	out := make([]*domain.Transaction, 0, n)
	for i := 0; i < n; i++ {
		tx := f.candidate(fmt.Sprintf("tx_%02d", i), 1, "CREATED")
		// pairs share a created date so ordering must fall back to id
		tx.CreatedDate = t0.Add(time.Duration(i/2) * time.Minute)
		if mutate != nil {
			mutate(i, tx)
		}
		tx.ContentHash = tx.ComputeContentHash()
		_, err := f.repo.Upsert(context.Background(), f.db, tx)
		require.NoError(t, err)
		out = append(out, tx)
	}
	return out
}
