package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncError_Kinds(t *testing.T) {
	storage := NewStorageError("update", EntityStudent, "s1", ErrNotFound)
	transport := NewTransportError("sync", errors.New("connection refused"))
	conflict := NewConflictError("e1", EntityStudent, "s1")
	rejected := NewRejectionError("e2", EntityGrade, "g1", "score out of range")

	assert.True(t, IsStorage(storage))
	assert.True(t, IsTransport(transport))
	assert.True(t, IsConflict(conflict))
	assert.True(t, IsRejection(rejected))

	assert.False(t, IsTransport(storage))
	assert.False(t, IsRejection(conflict))
}

func TestSyncError_WrappedMatching(t *testing.T) {
	err := fmt.Errorf("facade: %w", NewStorageError("update", EntityStudent, "s1", ErrNotFound))

	assert.True(t, IsStorage(err))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsStorage_BareSentinels(t *testing.T) {
	assert.True(t, IsStorage(ErrNotFound))
	assert.True(t, IsStorage(fmt.Errorf("add: %w", ErrDuplicateKey)))
	assert.False(t, IsStorage(errors.New("other")))
}

func TestSyncError_Message(t *testing.T) {
	err := NewRejectionError("e2", EntityGrade, "g1", "score out of range")
	assert.Equal(t, "REJECTED sync grade/g1 (event=e2): score out of range", err.Error())

	terr := NewTransportError("sync", errors.New("timeout"))
	assert.Equal(t, "TRANSPORT sync: timeout", terr.Error())
}

func TestEventStatus(t *testing.T) {
	assert.True(t, StatusSynced.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusSyncing.Terminal())

	st, err := ParseEventStatus("FAILED")
	assert.NoError(t, err)
	assert.Equal(t, StatusFailed, st)

	_, err = ParseEventStatus("done")
	assert.Error(t, err)
}

func TestOperation_Valid(t *testing.T) {
	assert.True(t, OpCreate.Valid())
	assert.True(t, OpDelete.Valid())
	assert.False(t, Operation("PATCH").Valid())
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("evt", "first")
	assert.Equal(t, "first", g.NewID())
	assert.Equal(t, "evt-2", g.NewID())
	assert.Equal(t, "evt-3", g.NewID())
}

func TestUUIDv4Generator(t *testing.T) {
	id := UUIDv4Generator{}.NewID()
	assert.Len(t, id, 36)
	assert.Equal(t, byte('4'), id[14])
}
