package loadbalance

import (
	"fmt"
	"sync"
	"testing"

	"glweb/config"
	"glweb/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEndpoints = []registry.Endpoint{
	{NodeID: "02ab", URL: "http://p1:1111", Weight: 10},
	{NodeID: "02ab", URL: "http://p2:1111", Weight: 5},
	{NodeID: "02ab", URL: "http://p3:1111", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	results := make([]string, 3)
	for i := range results {
		ep, err := b.Pick(testEndpoints, "")
		require.NoError(t, err)
		results[i] = ep.URL
	}
	assert.Equal(t, []string{"http://p1:1111", "http://p2:1111", "http://p3:1111"}, results)

	ep, err := b.Pick(testEndpoints, "")
	require.NoError(t, err)
	assert.Equal(t, results[0], ep.URL)
}

func TestEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		_, err := b.Pick(nil, "02ab")
		assert.ErrorIs(t, err, ErrNoEndpoints, b.Name())
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		ep, err := b.Pick(testEndpoints, "")
		require.NoError(t, err)
		counts[ep.URL]++
	}

	// weights 10:5:10, so p1 should see about twice p2's share
	ratio := float64(counts["http://p1:1111"]) / float64(counts["http://p2:1111"])
	assert.InDelta(t, 2.0, ratio, 0.5)
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	eps := []registry.Endpoint{{URL: "a"}, {URL: "b"}}
	assert.NotPanics(t, func() {
		_, err := (&WeightedRandomBalancer{}).Pick(eps, "")
		assert.NoError(t, err)
	})
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	first, err := b.Pick(testEndpoints, "02ab")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := b.Pick(testEndpoints, "02ab")
		require.NoError(t, err)
		assert.Equal(t, first.URL, again.URL)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ep, err := b.Pick(testEndpoints, fmt.Sprintf("node-%d", i))
		require.NoError(t, err)
		seen[ep.URL] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestConsistentHashStableWhenOthersLeave(t *testing.T) {
	b := NewConsistentHashBalancer()
	keys := make(map[string]string)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("node-%d", i)
		ep, err := b.Pick(testEndpoints, key)
		require.NoError(t, err)
		keys[key] = ep.URL
	}

	// drop p2: keys that were not on p2 stay where they were
	remaining := []registry.Endpoint{testEndpoints[0], testEndpoints[2]}
	for key, url := range keys {
		if url == "http://p2:1111" {
			continue
		}
		ep, err := b.Pick(remaining, key)
		require.NoError(t, err)
		assert.Equal(t, url, ep.URL, key)
	}
}

func TestConsistentHashAddGet(t *testing.T) {
	b := NewConsistentHashBalancer()
	_, err := b.Get("x")
	assert.ErrorIs(t, err, ErrNoEndpoints)

	b.Add(&testEndpoints[0])
	ep, err := b.Get("x")
	require.NoError(t, err)
	assert.Equal(t, testEndpoints[0].URL, ep.URL)
}

func TestConcurrentPick(t *testing.T) {
	b := NewConsistentHashBalancer()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			eps := testEndpoints
			if i%2 == 0 {
				eps = testEndpoints[:2]
			}
			_, err := b.Pick(eps, "02ab")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{
		config.BalancerRoundRobin:     "RoundRobin",
		config.BalancerWeightedRandom: "WeightedRandom",
		config.BalancerConsistentHash: "ConsistentHash",
	} {
		b, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, want, b.Name())
	}
	_, err := New("random")
	assert.Error(t, err)
}
