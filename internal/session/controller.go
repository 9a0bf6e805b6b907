package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/source"
)

// DecisionKind tells the dispatcher what to do with an inbound message.
type DecisionKind string

const (
	// DecisionReply answers the user with Decision.Reply and nothing else.
	DecisionReply DecisionKind = "reply"
	// DecisionStartPipeline runs Decision.Request through the content
	// pipeline. The controller has already claimed the busy slot.
	DecisionStartPipeline DecisionKind = "start_pipeline"
	// DecisionChatTurn runs one chat model turn for the user. The caller
	// reads the accumulated history via ChatHistory when the turn executes,
	// so queued turns see every earlier reply.
	DecisionChatTurn DecisionKind = "chat_turn"
)

type Decision struct {
	Kind    DecisionKind
	Reply   string
	Request *domain.PipelineRequest
}

const (
	usageHint = "Send me a video link to get a summary, or pick a mode first:\n" +
		"/download - fetch the audio file\n" +
		"/summary - summarize the spoken content\n" +
		"/chat - open-ended conversation\n" +
		"/exit - leave chat mode\n" +
		"/cancel - reset everything"
	busyNotice    = "Still processing your previous request, please wait for it to finish."
	notALinkHint  = "That does not look like a video link I recognize. Send a valid link or /cancel."
	chatOpened    = "Chat mode is on. Say anything, /exit to leave."
	chatClosed    = "Left chat mode. History cleared."
	nothingToExit = "You are not in chat mode. Send a video link or pick a mode with /download or /summary."
	cancelled     = "Cancelled. Send a video link whenever you are ready."
)

// Controller is the per-user conversation state machine. It decides how each
// command and text message advances the session and hands pipeline-triggering
// decisions to the dispatcher with the busy slot already held.
type Controller struct {
	store   Store
	sources *source.Registry
	logger  *slog.Logger
}

func NewController(store Store, sources *source.Registry, logger *slog.Logger) *Controller {
	return &Controller{
		store:   store,
		sources: sources,
		logger:  logger.With("component", "session"),
	}
}

func (c *Controller) load(ctx context.Context, userID string) (*domain.UserSession, error) {
	sess, err := c.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = domain.NewUserSession(userID)
	}
	return sess, nil
}

func (c *Controller) save(ctx context.Context, sess *domain.UserSession) error {
	sess.LastActivity = time.Now()
	return c.store.Put(ctx, sess)
}

// HandleCommand processes a slash command without its leading slash.
func (c *Controller) HandleCommand(ctx context.Context, userID, command string) (Decision, error) {
	sess, err := c.load(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("load session: %w", err)
	}

	var reply string
	switch command {
	case "start", "help":
		reply = usageHint
	case "download":
		sess.Mode = domain.SessionAwaitingURL
		sess.TargetMode = domain.ModeDownload
		reply = "Download mode. Send the video link and I will fetch the audio."
	case "summary", "summarize":
		sess.Mode = domain.SessionAwaitingURL
		sess.TargetMode = domain.ModeSummarize
		reply = "Summary mode. Send the video link and I will summarize what is said in it."
	case "chat":
		sess.Mode = domain.SessionChatActive
		sess.ChatHistory = nil
		reply = chatOpened
	case "exit":
		if sess.Mode == domain.SessionChatActive {
			sess.Reset()
			reply = chatClosed
		} else {
			reply = nothingToExit
		}
	case "cancel":
		sess.Reset()
		reply = cancelled
	default:
		reply = usageHint
	}

	if err := c.save(ctx, sess); err != nil {
		return Decision{}, fmt.Errorf("save session: %w", err)
	}
	return Decision{Kind: DecisionReply, Reply: reply}, nil
}

// HandleText processes a plain message. A recognized video link while idle
// implicitly means summarize; while awaiting a URL it consumes the selected
// mode; in chat mode every message is a chat turn.
func (c *Controller) HandleText(ctx context.Context, userID, text string) (Decision, error) {
	sess, err := c.load(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("load session: %w", err)
	}

	switch sess.Mode {
	case domain.SessionChatActive:
		sess.ChatHistory = append(sess.ChatHistory, domain.ChatTurn{Role: domain.RoleUser, Text: text})
		if err := c.save(ctx, sess); err != nil {
			return Decision{}, fmt.Errorf("save session: %w", err)
		}
		return Decision{Kind: DecisionChatTurn}, nil

	case domain.SessionAwaitingURL:
		url, ok := c.sources.Extract(text)
		if !ok {
			if err := c.save(ctx, sess); err != nil {
				return Decision{}, fmt.Errorf("save session: %w", err)
			}
			return Decision{Kind: DecisionReply, Reply: notALinkHint}, nil
		}
		return c.startPipeline(ctx, sess, url, sess.TargetMode)

	default:
		url, ok := c.sources.Extract(text)
		if !ok {
			if err := c.save(ctx, sess); err != nil {
				return Decision{}, fmt.Errorf("save session: %w", err)
			}
			return Decision{Kind: DecisionReply, Reply: usageHint}, nil
		}
		return c.startPipeline(ctx, sess, url, domain.ModeSummarize)
	}
}

// startPipeline claims the busy slot and, on success, consumes the awaiting
// mode. A busy rejection leaves the session untouched so the user can resend
// the link without re-picking the mode.
func (c *Controller) startPipeline(ctx context.Context, sess *domain.UserSession, url string, mode domain.Mode) (Decision, error) {
	ok, err := c.store.TryAcquire(ctx, sess.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("busy guard: %w", err)
	}
	if !ok {
		return Decision{Kind: DecisionReply, Reply: busyNotice}, nil
	}

	sess.Mode = domain.SessionIdle
	sess.TargetMode = ""
	if err := c.save(ctx, sess); err != nil {
		releaseErr := c.store.Release(ctx, sess.UserID)
		if releaseErr != nil {
			c.logger.Error("release after failed save", "user_id", sess.UserID, "error", releaseErr)
		}
		return Decision{}, fmt.Errorf("save session: %w", err)
	}

	req := &domain.PipelineRequest{
		ID:        uuid.NewString(),
		UserID:    sess.UserID,
		SourceURL: url,
		Mode:      mode,
		CreatedAt: time.Now(),
	}
	c.logger.Info("pipeline request accepted",
		"user_id", sess.UserID, "request_id", req.ID, "mode", mode)
	return Decision{Kind: DecisionStartPipeline, Request: req}, nil
}

// ChatHistory snapshots the user's accumulated chat turns. active is false
// when the user is not in chat mode, in which case a pending turn is a no-op.
func (c *Controller) ChatHistory(ctx context.Context, userID string) (history []domain.ChatTurn, active bool, err error) {
	sess, err := c.load(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("load session: %w", err)
	}
	if sess.Mode != domain.SessionChatActive {
		return nil, false, nil
	}
	return sess.ChatHistory, true, nil
}

// AppendAssistant records the model's reply into the user's chat history.
// A no-op if the user already left chat mode.
func (c *Controller) AppendAssistant(ctx context.Context, userID, text string) error {
	sess, err := c.load(ctx, userID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Mode != domain.SessionChatActive {
		return nil
	}
	sess.ChatHistory = append(sess.ChatHistory, domain.ChatTurn{Role: domain.RoleAssistant, Text: text})
	if err := c.save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// FinishRequest frees the user's in-flight slot once a pipeline run ends.
func (c *Controller) FinishRequest(ctx context.Context, userID string) {
	if err := c.store.Release(ctx, userID); err != nil {
		c.logger.Error("release busy slot", "user_id", userID, "error", err)
	}
}

// Snapshot exposes current sessions for the admin API.
func (c *Controller) Snapshot(ctx context.Context) ([]domain.UserSession, error) {
	return c.store.Snapshot(ctx)
}
