// SPDX-License-Identifier: MIT

package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpoolRoundTrip(t *testing.T) {
	sp, err := openSpool(t.TempDir())
	require.NoError(t, err)
	defer func() { require.NoError(t, sp.close()) }()

	key, err := sp.put(Message{Topic: "consultease/faculty/1/requests", Payload: []byte("x"), QoS: 1})
	require.NoError(t, err)
	require.Equal(t, 1, sp.depth())

	var drained []Message
	require.NoError(t, sp.drain(func(_ []byte, m Message) bool {
		drained = append(drained, m)
		return true
	}))
	require.Len(t, drained, 1)
	assert.Equal(t, "consultease/faculty/1/requests", drained[0].Topic)
	assert.Equal(t, []byte("x"), drained[0].Payload)
	assert.Equal(t, byte(1), drained[0].QoS)

	sp.remove(key)
	assert.Equal(t, 0, sp.depth())
}

func TestSpoolDrainOldestFirst(t *testing.T) {
	sp, err := openSpool(t.TempDir())
	require.NoError(t, err)
	defer func() { require.NoError(t, sp.close()) }()

	for i := 0; i < 5; i++ {
		_, err := sp.put(Message{Topic: fmt.Sprintf("t/%d", i)})
		require.NoError(t, err)
	}

	var topics []string
	require.NoError(t, sp.drain(func(_ []byte, m Message) bool {
		topics = append(topics, m.Topic)
		return true
	}))
	require.Len(t, topics, 5)
	for i, topic := range topics {
		assert.Equal(t, fmt.Sprintf("t/%d", i), topic)
	}
}

func TestSpoolSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	sp, err := openSpool(dir)
	require.NoError(t, err)
	_, err = sp.put(Message{Topic: "t/keep", Payload: []byte("payload")})
	require.NoError(t, err)
	require.NoError(t, sp.close())

	reopened, err := openSpool(dir)
	require.NoError(t, err)
	defer func() { require.NoError(t, reopened.close()) }()

	assert.Equal(t, 1, reopened.depth())
	var got []Message
	require.NoError(t, reopened.drain(func(_ []byte, m Message) bool {
		got = append(got, m)
		return true
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "t/keep", got[0].Topic)
}

func TestSpoolDrainStopsEarly(t *testing.T) {
	sp, err := openSpool(t.TempDir())
	require.NoError(t, err)
	defer func() { require.NoError(t, sp.close()) }()

	for i := 0; i < 3; i++ {
		_, err := sp.put(Message{Topic: fmt.Sprintf("t/%d", i)})
		require.NoError(t, err)
	}

	seen := 0
	require.NoError(t, sp.drain(func(_ []byte, m Message) bool {
		seen++
		return false
	}))
	assert.Equal(t, 1, seen)
	// Stopping the drain leaves entries parked.
	assert.Equal(t, 3, sp.depth())
}
