package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_LastRegistrationWins(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")

	r := NewBuilder().
		RegisterFunc("send", func(context.Context, Invocation) error { return first }).
		RegisterFunc("send", func(context.Context, Invocation) error { return second }).
		Build()

	h, ok := r.Get("send")
	require.True(t, ok)
	assert.ErrorIs(t, h.Handle(context.Background(), Invocation{}), second)
}

func TestRegistry_IsFrozenAfterBuild(t *testing.T) {
	b := NewBuilder().RegisterFunc("a", func(context.Context, Invocation) error { return nil })
	r := b.Build()

	b.RegisterFunc("b", func(context.Context, Invocation) error { return nil })

	_, ok := r.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, r.Names())
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, ok := NewBuilder().Build().Get("missing")
	assert.False(t, ok)
}

func TestHandlerFunc_PassesInvocation(t *testing.T) {
	var got Invocation
	h := HandlerFunc(func(_ context.Context, inv Invocation) error {
		got = inv
		return nil
	})

	want := Invocation{ScheduleID: "s1", EntityID: "e1", ActorID: "system", Data: map[string]any{"k": 1}, Attempt: 2}
	require.NoError(t, h.Handle(context.Background(), want))
	assert.Equal(t, want, got)
}
