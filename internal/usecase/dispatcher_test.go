package usecase

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/session"
	"TubeDigest/internal/source"
)

type fakeChat struct {
	mu        sync.Mutex
	replies   []string
	delay     time.Duration
	histories [][]domain.ChatTurn
}

func (f *fakeChat) Converse(_ context.Context, history []domain.ChatTurn) (string, error) {
	f.mu.Lock()
	f.histories = append(f.histories, append([]domain.ChatTurn(nil), history...))
	call := len(f.histories)
	f.mu.Unlock()

	if call == 1 && f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.replies[call-1], nil
}

func (f *fakeChat) seen() [][]domain.ChatTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]domain.ChatTurn(nil), f.histories...)
}

func newChatDispatcher(chat *fakeChat, transport *fakeTransport) (*Dispatcher, *session.Controller) {
	ctrl := session.NewController(session.NewInMemoryStore(0), source.Default(), slog.Default())
	d := NewDispatcher(DispatcherDeps{
		Sessions:  ctrl,
		Chat:      chat,
		Transport: transport,
	})
	return d, ctrl
}

func TestChatTurnsForOneUserRunInOrder(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{replies: []string{"first answer", "second answer"}, delay: 30 * time.Millisecond}
	d, ctrl := newChatDispatcher(chat, &fakeTransport{})
	ctx := context.Background()

	d.Dispatch(ctx, domain.InboundMessage{UserID: "7", Command: "chat"})
	d.Dispatch(ctx, domain.InboundMessage{UserID: "7", Text: "one"})
	d.Dispatch(ctx, domain.InboundMessage{UserID: "7", Text: "two"})
	d.Wait()

	seen := chat.seen()
	if len(seen) != 2 {
		t.Fatalf("expected two chat calls, got %d", len(seen))
	}
	// The second turn must wait for the first, so its context holds the
	// first reply.
	second := seen[1]
	if len(second) != 3 {
		t.Fatalf("second turn saw %d turns: %+v", len(second), second)
	}
	if second[1].Role != domain.RoleAssistant || second[1].Text != "first answer" {
		t.Fatalf("first reply missing from second turn: %+v", second)
	}

	hist, active, err := ctrl.ChatHistory(ctx, "7")
	if err != nil || !active {
		t.Fatalf("chat history: %v active=%v", err, active)
	}
	want := []struct {
		role domain.ChatRole
		text string
	}{
		{domain.RoleUser, "one"},
		{domain.RoleAssistant, "first answer"},
		{domain.RoleUser, "two"},
		{domain.RoleAssistant, "second answer"},
	}
	if len(hist) != len(want) {
		t.Fatalf("expected %d turns, got %+v", len(want), hist)
	}
	for i, w := range want {
		if hist[i].Role != w.role || hist[i].Text != w.text {
			t.Fatalf("turn %d out of order: %+v", i, hist)
		}
	}
}

func TestQueuedChatTurnSkippedAfterExit(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{replies: []string{"too late"}}
	d, ctrl := newChatDispatcher(chat, &fakeTransport{})
	ctx := context.Background()

	d.Dispatch(ctx, domain.InboundMessage{UserID: "7", Command: "chat"})
	d.Dispatch(ctx, domain.InboundMessage{UserID: "7", Text: "one"})
	if _, err := ctrl.HandleCommand(ctx, "7", "exit"); err != nil {
		t.Fatalf("exit: %v", err)
	}
	d.Wait()

	// The turn may have run before the exit; it must never run after.
	if _, active, _ := ctrl.ChatHistory(ctx, "7"); active {
		t.Fatalf("chat must be inactive after exit")
	}
}

func TestDeliverBoundsInlineSummary(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	d := NewDispatcher(DispatcherDeps{Transport: transport})
	req := domain.PipelineRequest{ID: "req-1", UserID: "7", Mode: domain.ModeSummarize}

	d.deliver(context.Background(), req, domain.PipelineResult{
		RequestID: "req-1",
		Status:    domain.StatusOK,
		Summary:   strings.Repeat("a", maxInlineTextChars+1),
		Artifacts: []domain.Artifact{{Kind: domain.ArtifactResultFile, Ref: "results/x.txt"}},
	})

	calls := transport.recorded()
	if len(calls) != 1 || calls[0].kind != "file" {
		t.Fatalf("oversized summary must only go out as a file: %+v", calls)
	}
}

func TestDeliverSendsShortSummaryInline(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	d := NewDispatcher(DispatcherDeps{Transport: transport})
	req := domain.PipelineRequest{ID: "req-1", UserID: "7", Mode: domain.ModeSummarize}

	d.deliver(context.Background(), req, domain.PipelineResult{
		RequestID: "req-1",
		Status:    domain.StatusOK,
		Summary:   "the gist",
		Artifacts: []domain.Artifact{{Kind: domain.ArtifactResultFile, Ref: "results/x.txt"}},
	})

	calls := transport.recorded()
	if len(calls) != 2 || calls[0].kind != "send" || calls[0].text != "the gist" {
		t.Fatalf("short summary must be sent inline before the file: %+v", calls)
	}
}
