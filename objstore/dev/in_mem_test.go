package dev

import (
	"context"
	"testing"
	"time"

	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/objstore"
	"github.com/stretchr/testify/require"
)

func TestInMemStore(t *testing.T) {
	inMem := NewInMemStore(0)
	objstore.TestApi(t, inMem)
}

func TestInMemStoreUnavailable(t *testing.T) {
	inMem := NewInMemStore(0)
	inMem.SetUnavailable(true)
	_, err := inMem.Get(context.Background(), "k")
	require.True(t, errors.IsTekaggErrorWithCode(err, errors.Unavailable))
	inMem.SetUnavailable(false)
	_, err = inMem.Get(context.Background(), "k")
	require.NoError(t, err)
}

func TestInMemStoreDelayHonoursContext(t *testing.T) {
	inMem := NewInMemStore(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := inMem.Put(ctx, "k", []byte("v"))
	require.Error(t, err)
	require.Equal(t, 0, inMem.Size())
}
