package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNoopSinkNeverPanics(t *testing.T) {
	var s Sink = New(nil)
	s.IncHit(0)
	s.IncMiss(1)
	s.IncEviction(2)
	s.IncExpired(3)
	s.SetKeyCount(0, 10)
	s.SetMemoryBytes(0, 1024)
	s.IncLazyFreeError()
	s.SetLazyFreeQueueDepth(5)
	s.ObserveAOFRewriteDuration(0.5)
	s.IncAOFRewriteFailure()
	s.SetReadOnly(true)
	s.SetReadOnly(false)
	s.IncBlockedWaiterTimeout()
}

func TestPromSinkRegistersWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(reg)
	s.IncHit(0)
	s.SetReadOnly(true)
	s.ObserveAOFRewriteDuration(1.25)
}
