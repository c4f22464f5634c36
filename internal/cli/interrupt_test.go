package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewInterruptHandler(t *testing.T) {
	handler := NewInterruptHandler(nil)
	assert.NotNil(t, handler.writer)
	assert.False(t, handler.WasInterrupted())
}

func TestInterruptHandler_Interrupt(t *testing.T) {
	var out bytes.Buffer
	handler := NewInterruptHandler(&out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = handler.HandleInterrupts(ctx, "Reconciliation")

	select {
	case <-ctx.Done():
		t.Fatal("context should not be canceled before an interrupt")
	default:
	}

	handler.interrupt()
	handler.interrupt()

	assert.True(t, handler.WasInterrupted())
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("Reconciliation interrupted!")))
}

func TestInterruptHandler_ReleasesOnParentCancel(t *testing.T) {
	handler := NewInterruptHandler(&bytes.Buffer{})

	parent, cancel := context.WithCancel(context.Background())
	ctx := handler.HandleInterrupts(parent, "Classification")
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("derived context should end with its parent")
	}
	assert.False(t, handler.WasInterrupted())
}
