package objstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestApi runs the behaviour every Client implementation must have against client.
func TestApi(t *testing.T, client Client) {
	testCases := []testCase{
		{testName: "testPutGet", test: testPutGet},
		{testName: "testGetMissing", test: testGetMissing},
		{testName: "testPutOverwrite", test: testPutOverwrite},
		{testName: "testDelete", test: testDelete},
		{testName: "testDeleteMissing", test: testDeleteMissing},
	}
	for _, tc := range testCases {
		t.Run(tc.testName, func(t *testing.T) {
			tc.test(t, client)
		})
	}
}

type testCase struct {
	testName string
	test     func(t *testing.T, client Client)
}

func testPutGet(t *testing.T, client Client) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		err := client.Put(ctx, fmt.Sprintf("putget-%d", i), []byte(fmt.Sprintf("value-%d", i)))
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		v, err := client.Get(ctx, fmt.Sprintf("putget-%d", i))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("value-%d", i), string(v))
	}
}

func testGetMissing(t *testing.T, client Client) {
	v, err := client.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, v)
}

func testPutOverwrite(t *testing.T, client Client) {
	ctx := context.Background()
	require.NoError(t, client.Put(ctx, "overwrite", []byte("v1")))
	require.NoError(t, client.Put(ctx, "overwrite", []byte("v2")))
	v, err := client.Get(ctx, "overwrite")
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
}

func testDelete(t *testing.T, client Client) {
	ctx := context.Background()
	require.NoError(t, client.Put(ctx, "delete", []byte("v1")))
	require.NoError(t, client.Delete(ctx, "delete"))
	v, err := client.Get(ctx, "delete")
	require.NoError(t, err)
	require.Nil(t, v)
}

func testDeleteMissing(t *testing.T, client Client) {
	require.NoError(t, client.Delete(context.Background(), "never-added"))
}
