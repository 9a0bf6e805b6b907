package usecase

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
	"TubeDigest/internal/session"
)

const (
	notAuthorizedReply = "Sorry, this bot is private."
	genericErrorReply  = "Something went wrong, please try again."
)

// maxInlineTextChars bounds how much raw text goes into a chat message
// before we fall back to the attached result file.
const maxInlineTextChars = 3500

// Dispatcher routes inbound messages through the session controller and
// executes the resulting decisions. Pipeline runs and chat turns happen in
// their own goroutines so the transport poller is never blocked.
type Dispatcher struct {
	sessions  *session.Controller
	pipeline  *Pipeline
	progress  *ProgressChannel
	chat      ports.ChatModel
	transport ports.Transport
	history   ports.HistoryRepository
	allowed   map[string]bool
	logger    *slog.Logger

	wg sync.WaitGroup

	// chatTail chains chat turns per user so no two turns for the same
	// user run concurrently and each Converse call sees the prior reply.
	chatMu   sync.Mutex
	chatTail map[string]chan struct{}
}

// DispatcherDeps collects the dispatcher collaborators. Allowed may be nil to
// admit every user; History may be nil to skip run records.
type DispatcherDeps struct {
	Sessions  *session.Controller
	Pipeline  *Pipeline
	Progress  *ProgressChannel
	Chat      ports.ChatModel
	Transport ports.Transport
	History   ports.HistoryRepository
	Allowed   map[string]bool
	Logger    *slog.Logger
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sessions:  deps.Sessions,
		pipeline:  deps.Pipeline,
		progress:  deps.Progress,
		chat:      deps.Chat,
		transport: deps.Transport,
		history:   deps.History,
		allowed:   deps.Allowed,
		logger:    logger.With("component", "dispatcher"),
		chatTail:  make(map[string]chan struct{}),
	}
}

// Dispatch handles one inbound message. It returns as soon as the decision is
// made; long-running work continues in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.InboundMessage) {
	if d.allowed != nil && !d.allowed[msg.UserID] {
		d.logger.Warn("message from unlisted user dropped", "user_id", msg.UserID)
		d.reply(ctx, msg.UserID, notAuthorizedReply)
		return
	}

	var (
		decision session.Decision
		err      error
	)
	if msg.Command != "" {
		decision, err = d.sessions.HandleCommand(ctx, msg.UserID, msg.Command)
	} else {
		decision, err = d.sessions.HandleText(ctx, msg.UserID, msg.Text)
	}
	if err != nil {
		d.logger.Error("session decision failed", "user_id", msg.UserID, "error", err)
		d.reply(ctx, msg.UserID, genericErrorReply)
		return
	}

	switch decision.Kind {
	case session.DecisionReply:
		d.reply(ctx, msg.UserID, decision.Reply)
	case session.DecisionChatTurn:
		d.enqueueChatTurn(ctx, msg.UserID)
	case session.DecisionStartPipeline:
		req := *decision.Request
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.sessions.FinishRequest(context.WithoutCancel(ctx), req.UserID)
			d.runPipeline(ctx, req)
		}()
	}
}

// Wait blocks until all background runs spawned by Dispatch have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// enqueueChatTurn appends the turn to the user's chain. Turns for one user
// run strictly in arrival order; turns for different users stay independent.
func (d *Dispatcher) enqueueChatTurn(ctx context.Context, userID string) {
	d.chatMu.Lock()
	prev := d.chatTail[userID]
	done := make(chan struct{})
	d.chatTail[userID] = done
	d.chatMu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		d.runChatTurn(ctx, userID)

		d.chatMu.Lock()
		if d.chatTail[userID] == done {
			delete(d.chatTail, userID)
		}
		d.chatMu.Unlock()
	}()
}

func (d *Dispatcher) runChatTurn(ctx context.Context, userID string) {
	history, active, err := d.sessions.ChatHistory(ctx, userID)
	if err != nil {
		d.logger.Error("chat history not loaded", "user_id", userID, "error", err)
		d.reply(ctx, userID, genericErrorReply)
		return
	}
	if !active {
		// The user left chat mode while this turn was queued.
		return
	}

	reply, err := d.chat.Converse(ctx, history)
	if err != nil {
		d.logger.Error("chat turn failed", "user_id", userID, "error", err)
		d.reply(ctx, userID, domain.Capture(err).Message)
		return
	}
	d.reply(ctx, userID, reply)
	if err := d.sessions.AppendAssistant(ctx, userID, reply); err != nil {
		d.logger.Error("chat history not updated", "user_id", userID, "error", err)
	}
}

func (d *Dispatcher) runPipeline(ctx context.Context, req domain.PipelineRequest) {
	result := d.pipeline.Run(ctx, req, func(ev domain.ProgressEvent) {
		d.progress.Publish(ctx, ev)
	})

	if result.Status == domain.StatusOK {
		d.deliver(ctx, req, result)
	}
	d.record(ctx, req, result)
}

// deliver sends the run's artifacts to the user: the media file for download
// mode, otherwise the summary (or raw text) plus the saved result file.
func (d *Dispatcher) deliver(ctx context.Context, req domain.PipelineRequest, result domain.PipelineResult) {
	for _, art := range result.Artifacts {
		if art.Kind != domain.ArtifactMediaFile {
			continue
		}
		if err := d.transport.SendFile(ctx, req.UserID, art.Ref, "your audio"); err != nil {
			d.logger.Error("media file not delivered", "request_id", req.ID, "error", err)
			d.reply(ctx, req.UserID, genericErrorReply)
		}
		if err := os.Remove(art.Ref); err != nil {
			d.logger.Warn("downloaded file not removed", "path", art.Ref, "error", err)
		}
	}
	if req.Mode == domain.ModeDownload {
		return
	}

	// Oversized texts are only delivered through the result file below;
	// the transport rejects messages past its length limit.
	if result.Summary != "" {
		if len(result.Summary) <= maxInlineTextChars {
			d.reply(ctx, req.UserID, result.Summary)
		}
	} else if text := result.Text(); text != "" && len(text) <= maxInlineTextChars {
		d.reply(ctx, req.UserID, text)
	}

	for _, art := range result.Artifacts {
		if art.Kind != domain.ArtifactResultFile {
			continue
		}
		if err := d.transport.SendFile(ctx, req.UserID, art.Ref, "full text"); err != nil {
			d.logger.Error("result file not delivered", "request_id", req.ID, "error", err)
		}
	}
}

func (d *Dispatcher) record(ctx context.Context, req domain.PipelineRequest, result domain.PipelineResult) {
	if d.history == nil {
		return
	}
	rec := domain.RunRecord{
		ID:        req.ID,
		UserID:    req.UserID,
		SourceURL: req.SourceURL,
		Mode:      req.Mode,
		Status:    result.Status,
		Summary:   result.Summary,
		CreatedAt: time.Now(),
	}
	if result.Err != nil {
		rec.Error = result.Err.Message
	}
	if err := d.history.SaveRun(ctx, rec); err != nil {
		d.logger.Error("run record not saved", "request_id", req.ID, "error", err)
	}
}

func (d *Dispatcher) reply(ctx context.Context, userID, text string) {
	if _, err := d.transport.SendMessage(ctx, userID, text); err != nil {
		d.logger.Error("reply not sent", "user_id", userID, "error", err)
	}
}
