package credentials

import (
	"encoding/base64"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	c := NewStatic([]byte{0x02, 0x03}, []byte("sig"))
	h := make(http.Header)
	now := time.Unix(1700000000, 0)

	require.NoError(t, Apply(h, c, nil, now))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x02, 0x03}), h.Get(HeaderPubKey))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("sig")), h.Get(HeaderSignature))

	raw, err := base64.StdEncoding.DecodeString(h.Get(HeaderTimestamp))
	require.NoError(t, err)
	require.Len(t, raw, 8)
	assert.Equal(t, []byte{0, 0, 0, 0}, raw[:4])
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Unix(1712345678, 0)
	got, err := ParseTimestamp(Timestamp(now))
	require.NoError(t, err)
	assert.True(t, now.Equal(got))

	_, err = ParseTimestamp("AAAA")
	assert.Error(t, err)
}

func TestApplyWithoutSignature(t *testing.T) {
	err := Apply(make(http.Header), NewStatic([]byte{1}, nil), nil, time.Now())
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	c := NewStatic([]byte("device-key"), []byte("device-sig"))
	path := filepath.Join(t.TempDir(), "creds")
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.PublicKey(), loaded.PublicKey())
	sig, err := loaded.Sign(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("device-sig"), sig)
}

func TestFromBytesMalformed(t *testing.T) {
	blob := NewStatic([]byte("k"), []byte("s")).Bytes()

	for name, b := range map[string][]byte{
		"empty":     nil,
		"truncated": blob[:len(blob)-1],
		"trailing":  append(append([]byte{}, blob...), 0x00),
	} {
		_, err := FromBytes(b)
		assert.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestConcurrentApply(t *testing.T) {
	c := NewStatic([]byte("k"), []byte("s"))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := make(http.Header)
			assert.NoError(t, Apply(h, c, []byte("body"), time.Now()))
		}()
	}
	wg.Wait()
}
