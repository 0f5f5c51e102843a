package bulk_operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressBusOrderAndUnsubscribe(t *testing.T) {
	bus := newProgressBus()
	var got []string

	unsubA := bus.subscribe(func(p OperationProgress) { got = append(got, "a:"+p.Message) })
	bus.subscribe(func(p OperationProgress) { got = append(got, "b:"+p.Message) })

	bus.publish(OperationProgress{Message: "1"})
	unsubA()
	unsubA()
	bus.publish(OperationProgress{Message: "2"})

	assert.Equal(t, []string{"a:1", "b:1", "b:2"}, got)
}

func TestProgressBusChannelDropsWhenFull(t *testing.T) {
	bus := newProgressBus()
	ch, unsubscribe := bus.subscribeChan(2)

	for i := 1; i <= 5; i++ {
		bus.publish(OperationProgress{CurrentItem: i})
	}

	assert.Equal(t, 1, (<-ch).CurrentItem)
	assert.Equal(t, 2, (<-ch).CurrentItem)

	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok)

	// publishing after unsubscribe must not panic on the closed channel
	bus.publish(OperationProgress{CurrentItem: 6})
}

func TestEngineSubscribeChan(t *testing.T) {
	engine := NewEngine(EngineConfig{})
	ch, unsubscribe := engine.SubscribeChan(100)
	defer unsubscribe()

	_, err := engine.RunBulkUpdate(t.Context(), makeProducts(3), []FieldUpdate{{Field: "isActive", Value: false}}, nil, nil)
	assert.NoError(t, err)

	var phases []Phase
	for len(ch) > 0 {
		phases = append(phases, (<-ch).Phase)
	}
	assert.Equal(t, PhasePreparing, phases[0])
	assert.Equal(t, PhaseCompleted, phases[len(phases)-1])
	assert.Contains(t, phases, PhaseCompleting)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 50.0, OperationProgress{TotalItems: 4, CurrentItem: 2}.Percent())
	assert.Equal(t, 0.0, OperationProgress{Phase: PhasePreparing}.Percent())
	assert.True(t, PhaseFailed.Terminal())
	assert.False(t, PhaseProcessing.Terminal())
}
