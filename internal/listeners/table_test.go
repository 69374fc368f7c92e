package listeners_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/brokerlink/internal/domain"
	"github.com/nfrund/brokerlink/internal/listeners"
	"github.com/nfrund/brokerlink/internal/topics"
)

var motor = topics.MustFrom(map[string]any{"type": "motor"})

func TestDispatch_PersistentListenersInOrder(t *testing.T) {
	table := listeners.NewTable(nil)

	const n = 5
	var order []int
	for i := 0; i < n; i++ {
		i := i
		table.Register(motor, func(any) { order = append(order, i) }, true)
	}

	require.NoError(t, table.Dispatch(motor, map[string]any{}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order, "all listeners should fire once, in registration order")
	assert.Equal(t, n, table.Len(motor), "persistent listeners survive dispatch")
}

func TestDispatch_OneShotFiresOnce(t *testing.T) {
	table := listeners.NewTable(nil)

	calls := 0
	table.Register(motor, func(any) { calls++ }, false)

	require.NoError(t, table.Dispatch(motor, nil))
	require.NoError(t, table.Dispatch(motor, nil))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, table.Len(motor))
	assert.Empty(t, table.Topics(), "empty topic keys are dropped")
}

func TestDispatch_MatchesPermutedTopics(t *testing.T) {
	table := listeners.NewTable(nil)

	var got any
	table.Register(topics.MustFrom(map[string]any{"type": "motor", "id": 1}), func(c any) { got = c }, true)

	err := table.Dispatch(topics.MustFrom(map[string]any{"id": 1.0, "type": "motor"}), "payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", got)
}

func TestDispatch_NoListenersIsNoop(t *testing.T) {
	table := listeners.NewTable(nil)
	assert.NoError(t, table.Dispatch(motor, nil))
}

func TestDeregister_AllBeforeDispatch(t *testing.T) {
	table := listeners.NewTable(nil)

	calls := 0
	handles := make([]listeners.Deregister, 10)
	for i := range handles {
		handles[i] = table.Register(motor, func(any) { calls++ }, i%2 == 0)
	}

	rand.New(rand.NewSource(42)).Shuffle(len(handles), func(i, j int) {
		handles[i], handles[j] = handles[j], handles[i]
	})
	for _, deregister := range handles {
		deregister()
	}

	require.NoError(t, table.Dispatch(motor, nil))
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, table.Len(motor))
}

func TestDeregister_BoundByIdentity(t *testing.T) {
	table := listeners.NewTable(nil)

	var fired []string
	first := table.Register(motor, func(any) { fired = append(fired, "first") }, true)
	table.Register(motor, func(any) { fired = append(fired, "second") }, true)
	third := table.Register(motor, func(any) { fired = append(fired, "third") }, true)

	first()
	first() // idempotent, must not remove anything else
	third()

	require.NoError(t, table.Dispatch(motor, nil))
	assert.Equal(t, []string{"second"}, fired)
}

func TestDispatch_PanickingCallbackIsIsolated(t *testing.T) {
	table := listeners.NewTable(nil)

	var fired []string
	table.Register(motor, func(any) { panic(errors.New("boom")) }, false)
	table.Register(motor, func(any) { fired = append(fired, "after-oneshot") }, false)
	table.Register(motor, func(any) { panic("plain") }, true)
	table.Register(motor, func(any) { fired = append(fired, "after-persistent") }, true)

	err := table.Dispatch(motor, nil)
	require.Error(t, err)

	var cbErr *domain.DispatchCallbackError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, `{"type":"motor"}`, cbErr.Topic)
	assert.Equal(t, []string{"after-oneshot", "after-persistent"}, fired)

	// Both one-shot entries are gone even though one of them panicked.
	assert.Equal(t, 2, table.Len(motor))
}

func TestDispatch_ReentrantRegistration(t *testing.T) {
	table := listeners.NewTable(nil)

	lateCalls := 0
	outerCalls := 0
	table.Register(motor, func(any) {
		outerCalls++
		// Registered during dispatch: must not run in this dispatch and must
		// survive the one-shot cleanup pass.
		table.Register(motor, func(any) { lateCalls++ }, false)
	}, false)

	require.NoError(t, table.Dispatch(motor, nil))
	assert.Equal(t, 1, outerCalls)
	assert.Equal(t, 0, lateCalls)
	assert.Equal(t, 1, table.Len(motor))

	require.NoError(t, table.Dispatch(motor, nil))
	assert.Equal(t, 1, outerCalls)
	assert.Equal(t, 1, lateCalls)
	assert.Equal(t, 0, table.Len(motor))
}

func TestDispatch_DeregisterDuringDispatch(t *testing.T) {
	table := listeners.NewTable(nil)

	secondCalls := 0
	var second listeners.Deregister
	table.Register(motor, func(any) { second() }, true)
	second = table.Register(motor, func(any) { secondCalls++ }, true)

	require.NoError(t, table.Dispatch(motor, nil))
	assert.Equal(t, 0, secondCalls, "deregistered listeners do not fire afterwards")
	assert.Equal(t, 1, table.Len(motor))
}

func TestDispatch_SelfDeregisteringOneShot(t *testing.T) {
	table := listeners.NewTable(nil)

	calls := 0
	var self listeners.Deregister
	self = table.Register(motor, func(any) {
		calls++
		self()
	}, false)

	require.NoError(t, table.Dispatch(motor, nil))
	require.NoError(t, table.Dispatch(motor, nil))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, table.Len(motor))
}
