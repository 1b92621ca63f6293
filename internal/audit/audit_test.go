package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

func TestMemStoreAppendAssignsID(t *testing.T) {
	store := NewMemStore()
	err := store.Append(context.Background(), axismsg.AuditEntry{
		Timestamp: time.Now(),
		Actor:     "sentinel",
		Action:    "validate.request",
		RiskLevel: axismsg.RiskLow,
		JobID:     "job-1",
	})
	require.NoError(t, err)

	entries, err := store.List(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
}

func TestMemStoreListFiltersByJobAndOrdersNewestFirst(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.Append(ctx, axismsg.AuditEntry{ID: "a", Timestamp: base, JobID: "job-1", Action: "one"}))
	require.NoError(t, store.Append(ctx, axismsg.AuditEntry{ID: "b", Timestamp: base.Add(time.Minute), JobID: "job-1", Action: "two"}))
	require.NoError(t, store.Append(ctx, axismsg.AuditEntry{ID: "c", Timestamp: base.Add(2 * time.Minute), JobID: "job-2", Action: "three"}))

	entries, err := store.List(ctx, "job-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ID)
	assert.Equal(t, "a", entries[1].ID)
}

func TestMemStoreListRespectsLimit(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, axismsg.AuditEntry{Timestamp: time.Now().Add(time.Duration(i) * time.Second)}))
	}

	entries, err := store.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMemStoreListDefaultsLimitWhenNonPositive(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, axismsg.AuditEntry{Timestamp: time.Now()}))
	}

	entries, err := store.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestNewDigestSinkReturnsNilWithoutConfig(t *testing.T) {
	assert.Nil(t, NewDigestSink(DigestSinkConfig{}))
	assert.Nil(t, NewDigestSink(DigestSinkConfig{Token: "xoxb-test"}))
	assert.Nil(t, NewDigestSink(DigestSinkConfig{Channel: "#ops"}))
}

func TestNilDigestSinkNotifyIsNoop(t *testing.T) {
	var sink *DigestSink
	assert.NotPanics(t, func() {
		sink.Notify(context.Background(), axismsg.AuditEntry{RiskLevel: axismsg.RiskCritical})
	})
}

func TestSinkRecordAppendsRegardlessOfDigest(t *testing.T) {
	store := NewMemStore()
	sink := NewSink(store, nil)

	sink.Record(context.Background(), axismsg.AuditEntry{
		Timestamp: time.Now(),
		Actor:     "gear:runtime",
		Action:    "execute.request",
		RiskLevel: axismsg.RiskCritical,
		JobID:     "job-9",
	})

	entries, err := store.List(context.Background(), "job-9", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, axismsg.RiskCritical, entries[0].RiskLevel)
}
