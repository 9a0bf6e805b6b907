package session

import (
	"context"
	"log/slog"
	"testing"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/source"
)

const videoLink = "https://youtu.be/abcdefghijk"

func newTestController() *Controller {
	return NewController(NewInMemoryStore(0), source.Default(), slog.Default())
}

func TestImplicitSummarizeOnIdleLink(t *testing.T) {
	t.Parallel()

	c := newTestController()
	decision, err := c.HandleText(context.Background(), "1", videoLink)
	if err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if decision.Kind != DecisionStartPipeline {
		t.Fatalf("expected pipeline start, got %v", decision.Kind)
	}
	if decision.Request.Mode != domain.ModeSummarize {
		t.Fatalf("idle link must default to summarize, got %v", decision.Request.Mode)
	}
	if decision.Request.SourceURL != "https://www.youtube.com/watch?v=abcdefghijk" {
		t.Fatalf("link not canonicalized: %s", decision.Request.SourceURL)
	}
}

func TestNonLinkWhileIdleGetsUsageHint(t *testing.T) {
	t.Parallel()

	c := newTestController()
	decision, err := c.HandleText(context.Background(), "1", "hello there")
	if err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if decision.Kind != DecisionReply || decision.Reply != usageHint {
		t.Fatalf("expected usage hint, got %+v", decision)
	}
}

func TestModeConsumedExactlyOnce(t *testing.T) {
	t.Parallel()

	c := newTestController()
	ctx := context.Background()

	if _, err := c.HandleCommand(ctx, "1", "download"); err != nil {
		t.Fatalf("handle command: %v", err)
	}

	decision, err := c.HandleText(ctx, "1", videoLink)
	if err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if decision.Kind != DecisionStartPipeline || decision.Request.Mode != domain.ModeDownload {
		t.Fatalf("expected download pipeline, got %+v", decision)
	}

	// The request finished; the next link must fall back to summarize.
	c.FinishRequest(ctx, "1")
	decision, err = c.HandleText(ctx, "1", videoLink)
	if err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if decision.Request.Mode != domain.ModeSummarize {
		t.Fatalf("mode must be consumed after one use, got %v", decision.Request.Mode)
	}
}

func TestNonLinkWhileAwaitingKeepsMode(t *testing.T) {
	t.Parallel()

	c := newTestController()
	ctx := context.Background()

	if _, err := c.HandleCommand(ctx, "1", "download"); err != nil {
		t.Fatalf("handle command: %v", err)
	}

	decision, err := c.HandleText(ctx, "1", "not a link")
	if err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if decision.Kind != DecisionReply || decision.Reply != notALinkHint {
		t.Fatalf("expected link hint, got %+v", decision)
	}

	decision, err = c.HandleText(ctx, "1", videoLink)
	if err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if decision.Request.Mode != domain.ModeDownload {
		t.Fatalf("awaiting mode lost after invalid input, got %v", decision.Request.Mode)
	}
}

func TestBusyGuardRejectsSecondRequest(t *testing.T) {
	t.Parallel()

	c := newTestController()
	ctx := context.Background()

	first, err := c.HandleText(ctx, "1", videoLink)
	if err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if first.Kind != DecisionStartPipeline {
		t.Fatalf("expected pipeline start, got %v", first.Kind)
	}

	second, err := c.HandleText(ctx, "1", videoLink)
	if err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if second.Kind != DecisionReply || second.Reply != busyNotice {
		t.Fatalf("expected busy rejection, got %+v", second)
	}

	// Another user is not affected.
	other, err := c.HandleText(ctx, "2", videoLink)
	if err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if other.Kind != DecisionStartPipeline {
		t.Fatalf("busy guard must be per user, got %v", other.Kind)
	}

	c.FinishRequest(ctx, "1")
	third, err := c.HandleText(ctx, "1", videoLink)
	if err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if third.Kind != DecisionStartPipeline {
		t.Fatalf("slot must be free after finish, got %v", third.Kind)
	}
}

func TestChatFlow(t *testing.T) {
	t.Parallel()

	c := newTestController()
	ctx := context.Background()

	if _, err := c.HandleCommand(ctx, "1", "chat"); err != nil {
		t.Fatalf("enter chat: %v", err)
	}

	turn, err := c.HandleText(ctx, "1", "first question")
	if err != nil {
		t.Fatalf("chat turn: %v", err)
	}
	if turn.Kind != DecisionChatTurn {
		t.Fatalf("expected chat turn, got %v", turn.Kind)
	}
	hist, active, err := c.ChatHistory(ctx, "1")
	if err != nil || !active {
		t.Fatalf("chat history: %v active=%v", err, active)
	}
	if len(hist) != 1 || hist[0].Role != domain.RoleUser {
		t.Fatalf("unexpected history: %+v", hist)
	}

	if err := c.AppendAssistant(ctx, "1", "first answer"); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	turn, err = c.HandleText(ctx, "1", "second question")
	if err != nil {
		t.Fatalf("chat turn: %v", err)
	}
	hist, _, err = c.ChatHistory(ctx, "1")
	if err != nil {
		t.Fatalf("chat history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history must accumulate turns, got %d", len(hist))
	}
	if hist[1].Role != domain.RoleAssistant || hist[1].Text != "first answer" {
		t.Fatalf("assistant turn missing: %+v", hist)
	}

	// A link inside chat mode is just a chat message.
	turn, err = c.HandleText(ctx, "1", videoLink)
	if err != nil {
		t.Fatalf("chat turn: %v", err)
	}
	if turn.Kind != DecisionChatTurn {
		t.Fatalf("links in chat mode must not trigger the pipeline, got %v", turn.Kind)
	}

	exit, err := c.HandleCommand(ctx, "1", "exit")
	if err != nil {
		t.Fatalf("exit chat: %v", err)
	}
	if exit.Reply != chatClosed {
		t.Fatalf("unexpected exit reply: %q", exit.Reply)
	}
	if _, active, _ := c.ChatHistory(ctx, "1"); active {
		t.Fatalf("chat must be inactive after exit")
	}

	// History is gone after exit.
	if _, err := c.HandleCommand(ctx, "1", "chat"); err != nil {
		t.Fatalf("re-enter chat: %v", err)
	}
	if _, err = c.HandleText(ctx, "1", "fresh start"); err != nil {
		t.Fatalf("chat turn: %v", err)
	}
	hist, _, err = c.ChatHistory(ctx, "1")
	if err != nil {
		t.Fatalf("chat history: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("history must reset on exit, got %d", len(hist))
	}
}

func TestExitOutsideChat(t *testing.T) {
	t.Parallel()

	c := newTestController()
	decision, err := c.HandleCommand(context.Background(), "1", "exit")
	if err != nil {
		t.Fatalf("handle command: %v", err)
	}
	if decision.Reply != nothingToExit {
		t.Fatalf("unexpected reply: %q", decision.Reply)
	}
}

func TestCancelResetsAwaitingMode(t *testing.T) {
	t.Parallel()

	c := newTestController()
	ctx := context.Background()

	if _, err := c.HandleCommand(ctx, "1", "summary"); err != nil {
		t.Fatalf("handle command: %v", err)
	}
	if _, err := c.HandleCommand(ctx, "1", "cancel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	decision, err := c.HandleText(ctx, "1", "plain text")
	if err != nil {
		t.Fatalf("handle text: %v", err)
	}
	if decision.Reply != usageHint {
		t.Fatalf("cancel must return to idle, got %+v", decision)
	}
}
