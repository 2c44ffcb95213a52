package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publications; unused mqtt.Client methods panic
type fakeClient struct {
	mqtt.Client
	mu           sync.Mutex
	messages     []published
	err          error
	hang         bool
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return newFakeToken(c.err, !c.hang)
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.disconnected = true
}

func TestPublisher_Topics(t *testing.T) {
	client := &fakeClient{}
	p := New(client, "airgradient/office", time.Second, nil)

	r := models.Reading{
		MeasurementTime: time.Date(2019, 12, 15, 3, 43, 5, 0, time.UTC),
		SerialNo:        null.StringFrom("000000000000"),
		PM02:            null.FloatFrom(0.23),
	}

	for _, rt := range []models.RecordType{models.RecordTypeCurrent, models.RecordTypeShortWindow, models.RecordTypeArchive} {
		require.NoError(t, p.Publish(context.Background(), rt, r))
	}

	require.Len(t, client.messages, 3)

	expected := []struct {
		topic    string
		retained bool
	}{
		{"airgradient/office/current", true},
		{"airgradient/office/short_window", true},
		{"airgradient/office/archive", false},
	}
	for i, e := range expected {
		assert.Equal(t, e.topic, client.messages[i].topic)
		assert.Equal(t, e.retained, client.messages[i].retained)
		assert.Equal(t, byte(0), client.messages[i].qos)
	}

	var decoded models.Reading
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &decoded))
	assert.True(t, decoded.Equal(r))
}

func TestPublisher_NoPrefix(t *testing.T) {
	p := New(&fakeClient{}, "", 0, nil)
	assert.Equal(t, "archive", p.Topic(models.RecordTypeArchive))
}

func TestPublisher_Error(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := New(client, "ag", time.Second, nil)

	err := p.Publish(context.Background(), models.RecordTypeCurrent, models.Reading{})
	assert.ErrorContains(t, err, "not connected")
}

func TestPublisher_Timeout(t *testing.T) {
	client := &fakeClient{hang: true}
	p := New(client, "ag", 20*time.Millisecond, nil)

	err := p.Publish(context.Background(), models.RecordTypeCurrent, models.Reading{})
	assert.ErrorIs(t, err, ErrPublishTimeout)
}

func TestPublisher_ContextCancelled(t *testing.T) {
	client := &fakeClient{hang: true}
	p := New(client, "ag", time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Publish(ctx, models.RecordTypeCurrent, models.Reading{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublisher_Close(t *testing.T) {
	client := &fakeClient{}
	New(client, "ag", 0, nil).Close()
	assert.True(t, client.disconnected)
}
