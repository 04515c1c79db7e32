package memdb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecache/pkg/blobcodec"
	"github.com/quotecache/pkg/models"
)

type stubKV struct {
	users  string
	assets []byte
	spans  string
}

func (s *stubKV) GetPlain(ctx context.Context, key string) (string, bool, error) {
	if key == usersKey {
		return s.users, true, nil
	}
	return "", false, nil
}

func (s *stubKV) GetStr(ctx context.Context, ns, key string) (string, bool, error) {
	if ns == metaNS && key == spansKey {
		return s.spans, true, nil
	}
	return "", false, nil
}

func (s *stubKV) GetBin(ctx context.Context, ns, key string) ([]byte, bool, error) {
	if ns == metaNS && key == assetsKey {
		return s.assets, true, nil
	}
	return nil, false, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func defaultStub() *stubKV {
	return &stubKV{
		users: `[
			{"id":1,"username":"alice","email":"alice@example.com","initials":"AA","visibleUsers":"bob"},
			{"id":2,"username":"bob","email":"bob@example.com","initials":"BB","visibleUsers":""}
		]`,
		assets: blobcodec.Compress(`{
			"S":[{"id":7,"symbol":"QQQ","name":"Invesco QQQ Trust","currency":"USD"}],
			"N":[{"id":3,"symbol":"DC.NAV","name":"Broker NAV","currency":"USD","user":"alice"}]
		}`),
		spans: `[
			{"type":"S","id":7,"histSpan":"Date:2020-01-01"},
			{"type":"N","id":3,"histSpan":""}
		]`,
	}
}

func TestPollRebuildsOnFirstCall(t *testing.T) {
	kv := defaultStub()
	m := New(kv, testLogger())

	snap, err := m.PollForChanges(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Changed)

	require.Len(t, snap.Users, 2)
	alice := snap.Users[0]
	require.Len(t, alice.VisibleUsers, 1)
	assert.Equal(t, "bob", alice.VisibleUsers[0].Username)

	require.Len(t, snap.Assets, 2)
	qqq := snap.Assets[0]
	assert.Equal(t, models.NewAssetId(models.AssetTypeStock, 7), qqq.ID)
	assert.Equal(t, "QQQ", qqq.Ticker)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, models.NewYork), qqq.ExpectedHistoryStart)
	assert.Nil(t, qqq.User)

	nav := snap.Assets[1]
	assert.Equal(t, models.AssetTypeBrokerNAV, nav.ID.Type())
	require.NotNil(t, nav.User)
	assert.Equal(t, "alice", nav.User.Username)
	assert.Equal(t, time.Date(2018, 1, 31, 0, 0, 0, 0, models.NewYork), nav.ExpectedHistoryStart)
}

func TestPollUnchangedSkipsDeserialization(t *testing.T) {
	kv := defaultStub()
	m := New(kv, testLogger())

	_, err := m.PollForChanges(context.Background())
	require.NoError(t, err)

	calls := 0
	m.unmarshal = func(data []byte, v any) error {
		calls++
		return json.Unmarshal(data, v)
	}

	snap, err := m.PollForChanges(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Changed)
	assert.Zero(t, calls, "unchanged raw data must not be deserialized")
	assert.Len(t, snap.Assets, 2, "the previous views are returned as-is")
}

func TestPollDetectsChange(t *testing.T) {
	kv := defaultStub()
	m := New(kv, testLogger())

	_, err := m.PollForChanges(context.Background())
	require.NoError(t, err)

	kv.users = `[{"id":1,"username":"alice","email":"alice@example.com","initials":"AA","visibleUsers":""}]`
	snap, err := m.PollForChanges(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Changed)
	assert.Len(t, snap.Users, 1)
}

func TestPollConfigDriftIsFatal(t *testing.T) {
	kv := defaultStub()
	kv.spans = `[{"type":"S","id":999,"histSpan":"1y"}]`
	m := New(kv, testLogger())

	_, err := m.PollForChanges(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config drift")

	// the failed rebuild must not poison the snapshot: a later fix is
	// picked up as a change
	kv.spans = `[{"type":"S","id":7,"histSpan":"1y"}]`
	snap, err := m.PollForChanges(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Changed)
}

func TestPollUnknownSubTableCode(t *testing.T) {
	kv := defaultStub()
	kv.spans = `[{"type":"X","id":7,"histSpan":""}]`
	m := New(kv, testLogger())

	_, err := m.PollForChanges(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sub-table code")
}

func TestPollMalformedSpanNamesTicker(t *testing.T) {
	kv := defaultStub()
	kv.spans = `[{"type":"S","id":7,"histSpan":"abc"}]`
	m := New(kv, testLogger())

	_, err := m.PollForChanges(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QQQ")
}

func TestExpectedHistoryStartDate(t *testing.T) {
	// 2021-03-15 is a Monday; one year back lands on Sunday 2020-03-15
	monday := time.Date(2021, 3, 15, 12, 0, 0, 0, models.NewYork)

	tests := []struct {
		span string
		want time.Time
	}{
		// default epoch 2018-02-01 is a Thursday: only the safety day
		{"", time.Date(2018, 1, 31, 0, 0, 0, 0, models.NewYork)},
		{"Date:2020-01-01", time.Date(2020, 1, 1, 0, 0, 0, 0, models.NewYork)},
		// Sunday rolls back to Friday, then one extra safety day
		{"1y", time.Date(2020, 3, 12, 0, 0, 0, 0, models.NewYork)},
		// 2020-09-15 is a Tuesday: no roll, just the safety day
		{"6m", time.Date(2020, 9, 14, 0, 0, 0, 0, models.NewYork)},
	}
	for _, tt := range tests {
		got, err := expectedHistoryStartAt(tt.span, "QQQ", monday)
		require.NoError(t, err, tt.span)
		assert.Equal(t, tt.want, got, tt.span)
	}
}

func TestExpectedHistoryStartDateErrors(t *testing.T) {
	for _, span := range []string{"abc", "Date:2020-13-77", "0y", "-2m", "y"} {
		_, err := expectedHistoryStartAt(span, "QQQ", time.Now())
		require.Error(t, err, span)
		assert.Contains(t, err.Error(), "QQQ", span)
	}
}
