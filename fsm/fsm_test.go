package fsm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosipstack/sipua/fsm"
)

func trying3wayMachine(entered chan string) *fsm.Machine {
	return fsm.New("Trying", []fsm.Transition{
		{Input: "provisional", From: []string{"Trying"}, To: "Proceeding"},
		{Input: "final", From: []string{"Trying", "Proceeding"}, To: "Completed"},
		{Input: "timeout", From: []string{"Completed"}, To: "Terminated"},
	}, map[string]fsm.Action{
		"Proceeding": func(ctx context.Context, from, to, input string) { entered <- to },
		"Completed":  func(ctx context.Context, from, to, input string) { entered <- to },
		"Terminated": func(ctx context.Context, from, to, input string) { entered <- to },
	})
}

func TestMachineFireValidTransition(t *testing.T) {
	entered := make(chan string, 4)
	m := trying3wayMachine(entered)
	defer m.Close()

	require.NoError(t, m.Fire(context.Background(), "provisional"))
	assert.Equal(t, "Proceeding", m.Current())
	assert.Equal(t, "Proceeding", <-entered)
}

func TestMachineFireIllegalTransition(t *testing.T) {
	entered := make(chan string, 4)
	m := trying3wayMachine(entered)
	defer m.Close()

	err := m.Fire(context.Background(), "timeout")
	assert.ErrorIs(t, err, fsm.ErrUnexpectedInput)
	assert.Equal(t, "Trying", m.Current())
}

func TestMachinePostIsAsync(t *testing.T) {
	entered := make(chan string, 4)
	m := trying3wayMachine(entered)
	defer m.Close()

	m.Post("provisional")
	m.Post("final")
	m.Post("timeout")

	select {
	case s := <-entered:
		assert.Equal(t, "Proceeding", s)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async transition")
	}
	select {
	case s := <-entered:
		assert.Equal(t, "Completed", s)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async transition")
	}
	select {
	case s := <-entered:
		assert.Equal(t, "Terminated", s)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async transition")
	}
}
