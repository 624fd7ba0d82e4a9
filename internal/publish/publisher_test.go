package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/screenhub/internal/model"
)

func sampleEvent() UpdateEvent {
	return UpdateEvent{
		Name:        "lobby",
		VersionID:   "0000000000000000001-abcdef01",
		ContentHash: "deadbeef",
		ChangeType:  model.ChangeTypeUpdate,
		UpdatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedBy:   "ops",
		Document: model.MustFromAny(map[string]any{
			"title": "Lobby",
			"slots": []any{1.0, "two", true},
			"theme": map[string]any{"color": "blue"},
		}),
	}
}

func TestCodec(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatProtobuf} {
		t.Run(string(format), func(t *testing.T) {
			codec, err := NewCodec(format)
			require.NoError(t, err)

			ev := sampleEvent()
			data, err := codec.Encode(ev)
			require.NoError(t, err)

			got, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, ev.Name, got.Name)
			assert.Equal(t, ev.VersionID, got.VersionID)
			assert.Equal(t, ev.ChangeType, got.ChangeType)
			assert.True(t, ev.UpdatedAt.Equal(got.UpdatedAt))
			assert.True(t, ev.Document.Equal(got.Document))
		})
	}

	_, err := NewCodec("xml")
	assert.Error(t, err)
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, Topic("screens/", "lobby"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(client, zap.NewNop())
	require.NoError(t, p.Publish(ctx, "screens/lobby", []byte("payload")))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "screens/lobby", msg.Channel)
		assert.Equal(t, "payload", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

// fakeToken completes immediately with err
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

// fakeMQTTClient records publications
type fakeMQTTClient struct {
	mqtt.Client
	connected bool
	err       error
	topics    []string
	qos       []byte
}

func (c *fakeMQTTClient) IsConnected() bool { return c.connected }

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.qos = append(c.qos, qos)
	return newFakeToken(c.err)
}

func (c *fakeMQTTClient) Disconnect(quiesce uint) { c.connected = false }

func TestMQTTPublisher(t *testing.T) {
	client := &fakeMQTTClient{connected: true}
	p := newMQTTPublisher(client, MQTTConfig{}, zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), "screens/lobby", []byte("x")))
	assert.Equal(t, []string{"screens/lobby"}, client.topics)
	assert.Equal(t, []byte{1}, client.qos)

	client.err = errors.New("broker rejected")
	assert.Error(t, p.Publish(context.Background(), "screens/lobby", []byte("x")))

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), "screens/lobby", []byte("x")), ErrNotConnected)
}
