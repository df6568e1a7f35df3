package audit

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestAppendChainsEntries(t *testing.T) {
	l := NewLog(WithClock(fixedClock()))
	ctx := context.Background()

	first, err := l.Append(ctx, Record{
		AgentID: "agent_1", Operation: "read_file", Domain: "filesystem",
		Approved: true, Reason: "APPROVED",
	})
	require.NoError(t, err)
	assert.Empty(t, first.PreviousHash)
	assert.NotEmpty(t, first.Hash)

	second, err := l.Append(ctx, Record{
		AgentID: "agent_1", Operation: "delete_file", Domain: "filesystem",
		Approved: false, Reason: "PERMISSION_DENIED",
		Details: map[string]interface{}{"path": "/tmp/x"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PreviousHash)

	require.NoError(t, l.VerifyChain())
	assert.Equal(t, 2, l.Len())
}

func TestVerifyEntriesDetectsTampering(t *testing.T) {
	l := NewLog(WithClock(fixedClock()))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, Record{AgentID: "a", Operation: "op", Approved: true, Reason: "APPROVED"})
		require.NoError(t, err)
	}

	entries := l.Entries()
	require.NoError(t, VerifyEntries(entries))

	tampered := append([]Entry(nil), entries...)
	tampered[1].Approved = false
	assert.Error(t, VerifyEntries(tampered))

	relinked := append([]Entry(nil), entries...)
	relinked[2].PreviousHash = "0000"
	assert.Error(t, VerifyEntries(relinked))
}

func TestFileSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail", "decisions.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	l := NewLog(WithClock(fixedClock()), WithSink(sink))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, Record{AgentID: "a", Operation: "read_file", Approved: true, Reason: "APPROVED"})
		require.NoError(t, err)
	}
	require.NoError(t, sink.Close())

	loaded, err := ReadFileTrail(path)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	assert.NoError(t, VerifyEntries(loaded))
	assert.Equal(t, l.Entries()[4].Hash, loaded[4].Hash)
}

func TestSinkFailurePropagates(t *testing.T) {
	sinkErr := errors.New("disk full")
	l := NewLog(WithClock(fixedClock()), WithSink(NewFailingSink(sinkErr)))

	entry, err := l.Append(context.Background(), Record{AgentID: "a", Operation: "op", Approved: true, Reason: "APPROVED"})
	require.Error(t, err)
	assert.ErrorIs(t, err, sinkErr)
	// The attempt is still on the in-memory chain.
	require.NotNil(t, entry)
	assert.Equal(t, 1, l.Len())
}

func TestSQLSinkWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit_entries")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	sink, err := NewSQLSink(db)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_entries")).
		WithArgs("id-1", sqlmock.AnyArg(), "agent_1", "read_file", "filesystem",
			true, "APPROVED", sqlmock.AnyArg(), "", "abc123").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = sink.Write(context.Background(), Entry{
		ID: "id-1", Timestamp: time.Now(), AgentID: "agent_1",
		Operation: "read_file", Domain: "filesystem",
		Approved: true, Reason: "APPROVED", Hash: "abc123",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSinkLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit_entries")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	sink, err := NewSQLSink(db)
	require.NoError(t, err)

	ts := time.Date(2025, 6, 1, 9, 0, 1, 0, time.UTC).Format(time.RFC3339Nano)
	rows := sqlmock.NewRows([]string{
		"id", "timestamp", "agent_id", "operation", "domain", "approved", "reason", "details", "previous_hash", "hash",
	}).
		AddRow("id-1", ts, "agent_1", "read_file", "filesystem", true, "APPROVED", `{"path":"/tmp/x"}`, "", "h1").
		AddRow("id-2", ts, "agent_1", "write_file", "filesystem", false, "RISK_TOO_HIGH", "null", "h1", "h2")

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_entries")).WillReturnRows(rows)

	entries, err := sink.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/tmp/x", entries[0].Details["path"])
	assert.Nil(t, entries[1].Details)
	assert.Equal(t, "h1", entries[1].PreviousHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}
