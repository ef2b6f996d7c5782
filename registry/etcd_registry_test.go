package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// etcdEndpoints returns the endpoints from GLWEB_ETCD_ENDPOINTS or skips.
func etcdEndpoints(t *testing.T) []string {
	v := os.Getenv("GLWEB_ETCD_ENDPOINTS")
	if v == "" {
		t.Skip("GLWEB_ETCD_ENDPOINTS not set")
	}
	return strings.Split(v, ",")
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), "/glweb-test/"+uuid.NewString(), 5*time.Second, nil)
	require.NoError(t, err)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ep1 := Endpoint{NodeID: "02ab", URL: "http://127.0.0.1:8001", Weight: 10, Version: "1.0"}
	ep2 := Endpoint{NodeID: "02ab", URL: "http://127.0.0.1:8002", Weight: 5, Version: "1.0"}
	require.NoError(t, reg.Register(ctx, ep1, 10))
	require.NoError(t, reg.Register(ctx, ep2, 10))

	eps, err := reg.Discover(ctx, "02ab")
	require.NoError(t, err)
	assert.Len(t, eps, 2)

	updates := reg.Watch(ctx, "02ab")
	require.NoError(t, reg.Deregister(ctx, "02ab", ep1.URL))

	select {
	case eps := <-updates:
		require.Len(t, eps, 1)
		assert.Equal(t, ep2.URL, eps[0].URL)
	case <-ctx.Done():
		t.Fatal("no watch update")
	}

	_ = reg.Deregister(ctx, "02ab", ep2.URL)
}
