package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentKeyLayout(t *testing.T) {
	key := AttachmentKey(12, 34, "Door Photo.JPG")
	parts := strings.Split(key, "/")
	require.Len(t, parts, 4)
	assert.Equal(t, []string{"audits", "12", "34"}, parts[:3])
	assert.True(t, strings.HasSuffix(parts[3], ".jpg"))
	assert.NotEqual(t, key, AttachmentKey(12, 34, "Door Photo.JPG"))

	assert.False(t, strings.Contains(AttachmentKey(1, 2, "x.tar/../../etc"), ".."))
	assert.True(t, strings.HasPrefix(SignatureKey(5, "sig.png"), "signatures/5/"))
}

func TestFSStoreRoundTrip(t *testing.T) {
	st, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "audits/1/2/a.jpg", strings.NewReader("12345"), "image/jpeg"))
	require.NoError(t, st.Put(ctx, "signatures/1/s.png", strings.NewReader("xy"), "image/png"))

	size, err := st.Stat(ctx, "audits/1/2/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	objs, err := st.List(ctx, AttachmentPrefix)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, Object{Key: "audits/1/2/a.jpg", Size: 5}, objs[0])

	require.NoError(t, st.Delete(ctx, "audits/1/2/a.jpg"))
	_, err = st.Stat(ctx, "audits/1/2/a.jpg")
	assert.ErrorIs(t, err, ErrNotExist)
	assert.NoError(t, st.Delete(ctx, "audits/1/2/a.jpg"))
}

func TestFSStoreConfinesKeysToRoot(t *testing.T) {
	root := t.TempDir()
	st, err := NewFSStore(root)
	require.NoError(t, err)
	p, err := st.resolve("../../outside")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, root))
}

func TestFSStorePutHonoursCancellation(t *testing.T) {
	st, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, st.Put(ctx, "audits/1/1/x", strings.NewReader("data"), ""))
	_, err = st.Stat(context.Background(), "audits/1/1/x")
	assert.ErrorIs(t, err, ErrNotExist)
}
