package events

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBridgeAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	a, b := NewNotifier(nil), NewNotifier(nil)
	detachA, err := NewRedisBridge(newClient(), nil).Attach(a)
	require.NoError(t, err)
	defer detachA()
	detachB, err := NewRedisBridge(newClient(), nil).Attach(b)
	require.NoError(t, err)
	defer detachB()

	subA, subB := a.Subscribe(), b.Subscribe()
	defer subA.Close()
	defer subB.Close()

	a.Publish("pdf_audio_concluido", map[string]string{"document_id": "abc"})

	for _, s := range []*Subscription{subA, subB} {
		select {
		case ev := <-s.C():
			assert.Equal(t, "pdf_audio_concluido", ev.Kind)
			assert.JSONEq(t, `{"document_id":"abc"}`, string(ev.Data))
		case <-time.After(2 * time.Second):
			t.Fatal("bridged event not received")
		}
	}
}

func TestRedisBridgeDetachRestoresLocalDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	n := NewNotifier(nil)
	detach, err := NewRedisBridge(client, nil).Attach(n)
	require.NoError(t, err)
	detach()

	s := n.Subscribe()
	defer s.Close()
	n.Publish("local", 1)
	assert.Equal(t, "local", receive(t, s).Kind)
}
