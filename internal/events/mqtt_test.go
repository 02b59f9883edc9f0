package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err error
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	pahomqtt.Client
	messages []published
	err      error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.messages = append(c.messages, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return fakeToken{err: c.err}
}

func TestPublishPowerIsRetained(t *testing.T) {
	client := &fakeClient{}
	pub := NewMQTTPublisher(client, "gohome/spotify/", zerolog.Nop())
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, pub.Publish(context.Background(), Power("abc", "Kitchen", true, at)))
	require.NoError(t, pub.Publish(context.Background(), Event{Type: TypeRegistered, DeviceID: "abc", Name: "Kitchen", At: at}))

	require.Len(t, client.messages, 2)
	assert.Equal(t, "gohome/spotify/abc/power", client.messages[0].topic)
	assert.True(t, client.messages[0].retained)
	assert.Equal(t, byte(1), client.messages[0].qos)
	assert.Equal(t, "gohome/spotify/abc/registered", client.messages[1].topic)
	assert.False(t, client.messages[1].retained)

	var decoded Event
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &decoded))
	require.NotNil(t, decoded.On)
	assert.True(t, *decoded.On)
	assert.Equal(t, TypePower, decoded.Type)

	assert.NotContains(t, string(client.messages[1].payload), `"on"`)
}

func TestPublishErrors(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	pub := NewMQTTPublisher(client, "gohome", zerolog.Nop())

	err := pub.Publish(context.Background(), Event{Type: TypeUnregistered, DeviceID: "abc"})
	assert.ErrorContains(t, err, "not connected")

	assert.Error(t, pub.Publish(context.Background(), Event{Type: TypePower}))
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
