package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartEventHasFixedId(t *testing.T) {
	start := New(StartEventName, time.Now(), nil)
	assert.Equal(t, StartEventId, start.Id)
	assert.True(t, start.IsStart())

	other := New("login", time.Now(), nil)
	assert.Empty(t, other.Id)
	assert.False(t, other.IsStart())
}

func TestStartDelayOf(t *testing.T) {
	scheduled := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	e := New("login", scheduled, nil)
	assert.Equal(t, 1500*time.Millisecond, StartDelayOf(e, scheduled.Add(1500*time.Millisecond)))

	unscheduled := New("login", time.Time{}, nil)
	assert.Equal(t, time.Duration(0), StartDelayOf(unscheduled, scheduled))
}

func TestMarshalRoundTrip_NormalisesData(t *testing.T) {
	e := New("login", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), map[string]interface{}{"count": 3})
	e.Id = "abc"
	bytes, err := Marshal(e)
	require.NoError(t, err)

	decoded, err := Unmarshal(bytes)
	require.NoError(t, err)
	assert.Equal(t, "login", decoded.Name)
	assert.True(t, e.ScheduledTime.Equal(decoded.ScheduledTime))
	assert.Equal(t, map[string]interface{}{"count": float64(3)}, decoded.Data)
}

type loginData struct {
	User    string        `json:"user"`
	Retries int           `json:"retries"`
	Timeout time.Duration `json:"timeout"`
}

func TestDecodeData(t *testing.T) {
	var out loginData
	err := DecodeData(map[string]interface{}{"user": "bob", "retries": float64(2), "timeout": "1s"}, &out)
	require.NoError(t, err)
	assert.Equal(t, loginData{User: "bob", Retries: 2, Timeout: time.Second}, out)
}

func TestLocalDataStore_DetachAttach(t *testing.T) {
	store := NewLocalDataStore()
	e := New("upload", time.Now(), []byte("large"))
	e.Id = "id-1"
	e.DataLocal = true

	require.NoError(t, store.Detach(e))
	assert.Nil(t, e.Data)
	assert.Equal(t, store.OwnerId(), e.DataOwner)
	assert.Equal(t, 1, store.Count())

	require.NoError(t, store.Attach(e))
	assert.Equal(t, []byte("large"), e.Data)

	store.Release(e.Id)
	assert.Error(t, store.Attach(e))
}

func TestLocalDataStore_IgnoresSharedEvents(t *testing.T) {
	store := NewLocalDataStore()
	e := New("upload", time.Now(), "shared")
	require.NoError(t, store.Detach(e))
	assert.Equal(t, "shared", e.Data)
	assert.Empty(t, e.DataOwner)
	assert.Equal(t, 0, store.Count())
}
