package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/selim/orkestra/pkg/run"
)

// Resolver resolves a suspended run's approval. Satisfied by workflow.Engine.
type Resolver interface {
	ApproveRun(ctx context.Context, runID string, approved bool) (*run.WorkflowRun, error)
}

// Config configures the Telegram approval notifier.
type Config struct {
	Token   string
	ChatIDs []int64
	Logger  zerolog.Logger
}

// Notifier forwards approval requests to Telegram chats and resolves them
// from inline-keyboard callbacks. It implements run.ApprovalChannel.
type Notifier struct {
	api      *tgbotapi.BotAPI
	chatIDs  []int64
	resolver Resolver
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewNotifier connects to the Telegram Bot API and builds the notifier.
func NewNotifier(cfg Config, resolver Resolver) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if len(cfg.ChatIDs) == 0 {
		return nil, fmt.Errorf("at least one telegram chat id is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}

	return &Notifier{
		api:      api,
		chatIDs:  cfg.ChatIDs,
		resolver: resolver,
		logger:   cfg.Logger.With().Str("component", "telegram").Logger(),
	}, nil
}

// Notify sends the approval request to every configured chat with an inline
// approve/deny keyboard. It succeeds when at least one chat received it.
func (n *Notifier) Notify(_ context.Context, req *run.ApprovalRequest) error {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", callbackData(req.RunID, true)),
			tgbotapi.NewInlineKeyboardButtonData("Deny", callbackData(req.RunID, false)),
		),
	)

	text := formatApprovalMessage(req)
	sent := 0
	var lastErr error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyMarkup = keyboard
		if _, err := n.api.Send(msg); err != nil {
			lastErr = err
			n.logger.Warn().
				Err(err).
				Int64("chat_id", chatID).
				Str("run_id", req.RunID).
				Msg("Failed to deliver approval request")
			continue
		}
		sent++
	}

	if sent == 0 {
		if lastErr != nil {
			return fmt.Errorf("failed to deliver approval request: %w", lastErr)
		}
		return fmt.Errorf("failed to deliver approval request")
	}
	return nil
}

// Start consumes bot updates until Stop is called, resolving runs from
// approve/deny callbacks.
func (n *Notifier) Start() {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true
	n.done = make(chan struct{})
	done := n.done
	n.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := n.api.GetUpdatesChan(u)

	n.logger.Info().Int("chats", len(n.chatIDs)).Msg("Telegram approval channel started")

	go func() {
		for {
			select {
			case <-done:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.CallbackQuery != nil {
					n.handleCallback(update.CallbackQuery)
				}
			}
		}
	}()
}

// Stop halts the update loop.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return
	}
	n.running = false
	close(n.done)
	n.api.StopReceivingUpdates()
}

func (n *Notifier) handleCallback(cb *tgbotapi.CallbackQuery) {
	runID, approved, ok := parseCallback(cb.Data)
	if !ok {
		n.answer(cb.ID, "Unrecognized action")
		return
	}

	actor := cb.From.UserName
	if actor == "" {
		actor = fmt.Sprintf("user:%d", cb.From.ID)
	}

	rec, err := n.resolver.ApproveRun(context.Background(), runID, approved)
	if err != nil {
		n.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to resolve approval")
		n.answer(cb.ID, fmt.Sprintf("Failed: %v", err))
		return
	}

	verdict := "approved"
	if !approved {
		verdict = "denied"
	}
	n.logger.Info().
		Str("run_id", runID).
		Str("actor", actor).
		Str("verdict", verdict).
		Str("status", string(rec.Status)).
		Msg("Approval resolved from Telegram")

	n.answer(cb.ID, fmt.Sprintf("Run %s %s", runID, verdict))

	if cb.Message != nil {
		edit := tgbotapi.NewEditMessageText(
			cb.Message.Chat.ID,
			cb.Message.MessageID,
			fmt.Sprintf("%s\n\nResolved: %s by %s", cb.Message.Text, verdict, actor),
		)
		if _, err := n.api.Send(edit); err != nil {
			n.logger.Debug().Err(err).Msg("Failed to edit approval message")
		}
	}
}

func (n *Notifier) answer(callbackID, text string) {
	if _, err := n.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		n.logger.Debug().Err(err).Msg("Failed to answer callback query")
	}
}

func formatApprovalMessage(req *run.ApprovalRequest) string {
	parts := []string{
		"Approval required to continue a workflow run.",
		fmt.Sprintf("run: %s", req.RunID),
		fmt.Sprintf("node: %s", req.NodeID),
	}
	if req.Message != "" {
		parts = append(parts, fmt.Sprintf("message: %s", req.Message))
	}
	keys := make([]string, 0, len(req.Snapshot))
	for key := range req.Snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", key, req.Snapshot[key]))
	}
	return strings.Join(parts, "\n")
}

func callbackData(runID string, approved bool) string {
	if approved {
		return "approve:" + runID
	}
	return "deny:" + runID
}

func parseCallback(data string) (runID string, approved bool, ok bool) {
	switch {
	case strings.HasPrefix(data, "approve:"):
		return strings.TrimPrefix(data, "approve:"), true, true
	case strings.HasPrefix(data, "deny:"):
		return strings.TrimPrefix(data, "deny:"), false, true
	default:
		return "", false, false
	}
}
