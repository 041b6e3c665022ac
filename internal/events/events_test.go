package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	m := NewManager(zap.NewNop())
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		m.Subscribe(WorkflowStarted, func(ctx context.Context, evt AgentEvent) error {
			order = append(order, i)
			return nil
		})
	}

	m.PublishWorkflowStarted(context.Background(), "wf-1", "assessment", 3)

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("handler order = %v, want [0 1 2]", order)
	}
}

func TestFailingHandlerDoesNotBlockLaterHandlers(t *testing.T) {
	m := NewManager(zap.NewNop())
	var reached bool
	m.Subscribe(AgentStarted, func(ctx context.Context, evt AgentEvent) error {
		return errors.New("handler down")
	})
	m.Subscribe(AgentStarted, func(ctx context.Context, evt AgentEvent) error {
		panic("handler exploded")
	})
	m.Subscribe(AgentStarted, func(ctx context.Context, evt AgentEvent) error {
		reached = true
		return nil
	})

	m.PublishAgentStarted(context.Background(), "wf-1", "analyst", "s1")

	if !reached {
		t.Fatal("last handler not reached after earlier failures")
	}
}

func TestPublishAssignsMonotonicSequence(t *testing.T) {
	m := NewManager(zap.NewNop())
	var seqs []uint64
	m.Subscribe(AgentCompleted, func(ctx context.Context, evt AgentEvent) error {
		seqs = append(seqs, evt.Seq)
		return nil
	})

	for i := 0; i < 5; i++ {
		m.PublishAgentCompleted(context.Background(), "wf-1", "analyst", fmt.Sprintf("s%d", i), 10)
	}

	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("sequence not monotonic: %v", seqs)
		}
	}
}

func TestReplaySince(t *testing.T) {
	m := NewManager(zap.NewNop())
	ctx := context.Background()

	m.PublishWorkflowStarted(ctx, "wf-1", "assessment", 2)
	m.PublishAgentStarted(ctx, "wf-1", "analyst", "s1")
	m.PublishAgentCompleted(ctx, "wf-1", "analyst", "s1", 12)
	m.PublishWorkflowStarted(ctx, "wf-2", "other", 1)

	all := m.ReplaySince("wf-1", 0)
	if len(all) != 3 {
		t.Fatalf("replayed %d events, want 3", len(all))
	}
	if all[0].Type != WorkflowStarted || all[2].Type != AgentCompleted {
		t.Fatalf("replay order wrong: %v %v", all[0].Type, all[2].Type)
	}

	tail := m.ReplaySince("wf-1", all[1].Seq)
	if len(tail) != 1 || tail[0].Type != AgentCompleted {
		t.Fatalf("tail replay = %d events, want the final one", len(tail))
	}

	if got := m.ReplaySince("wf-unknown", 0); got != nil {
		t.Fatalf("unknown workflow replay = %v, want nil", got)
	}
}

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	m := NewManagerWithCapacity(zap.NewNop(), 4)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.PublishAgentCompleted(ctx, "wf-1", "analyst", fmt.Sprintf("s%d", i), 1)
	}

	got := m.ReplaySince("wf-1", 0)
	if len(got) != 4 {
		t.Fatalf("ring holds %d events, want 4", len(got))
	}
	if got[0].Data["step_id"] != "s6" || got[3].Data["step_id"] != "s9" {
		t.Fatalf("ring kept wrong window: first=%v last=%v", got[0].Data["step_id"], got[3].Data["step_id"])
	}
}

func TestDropHistory(t *testing.T) {
	m := NewManager(zap.NewNop())
	ctx := context.Background()

	m.PublishWorkflowStarted(ctx, "wf-1", "assessment", 1)
	m.DropHistory("wf-1")

	if got := m.ReplaySince("wf-1", 0); got != nil {
		t.Fatalf("history survived drop: %v", got)
	}
}

func TestConcurrentPublish(t *testing.T) {
	m := NewManager(zap.NewNop())
	var mu sync.Mutex
	seen := 0
	m.Subscribe(StepRetried, func(ctx context.Context, evt AgentEvent) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				m.PublishStepRetried(context.Background(), fmt.Sprintf("wf-%d", n), "analyst", "s1", j, errors.New("transient"))
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if seen != 200 {
		t.Fatalf("delivered %d events, want 200", seen)
	}
}
