// Package notification delivers backtest run summaries to Telegram.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/irfndi/distance-pairs/internal/logging"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/irfndi/distance-pairs/internal/telemetry"
)

// ErrNoChat is returned when the notifier has no destination chat.
var ErrNoChat = errors.New("telegram chat id is not configured")

const defaultMaxPairs = 5

// MessageSender is the part of *bot.Bot the notifier needs.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramNotifier posts a summary of each completed run to one chat.
type TelegramNotifier struct {
	sender   MessageSender
	chatID   int64
	maxPairs int
	breaker  *CircuitBreaker
	tracer   *telemetry.BusinessTracer
	logger   *logging.StandardLogger
}

// Option configures a TelegramNotifier.
type Option func(*TelegramNotifier)

// WithMaxPairs limits how many pair lines a message lists.
func WithMaxPairs(n int) Option {
	return func(t *TelegramNotifier) {
		if n > 0 {
			t.maxPairs = n
		}
	}
}

// WithBreaker replaces the default circuit breaker guarding sends.
func WithBreaker(cb *CircuitBreaker) Option {
	return func(t *TelegramNotifier) { t.breaker = cb }
}

func WithTracer(tracer *telemetry.BusinessTracer) Option {
	return func(t *TelegramNotifier) { t.tracer = tracer }
}

func WithLogger(logger *logging.StandardLogger) Option {
	return func(t *TelegramNotifier) { t.logger = logger }
}

func NewTelegramNotifier(sender MessageSender, chatID int64, opts ...Option) *TelegramNotifier {
	n := &TelegramNotifier{
		sender:   sender,
		chatID:   chatID,
		maxPairs: defaultMaxPairs,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.tracer == nil {
		n.tracer = telemetry.NewBusinessTracer(nil)
	}
	if n.logger == nil {
		n.logger = logging.NewStandardLoggerFrom(nil)
	}
	if n.breaker == nil {
		n.breaker = NewCircuitBreaker("telegram", BreakerConfig{FailureThreshold: 3, OpenTimeout: 5 * time.Minute}, n.logger)
	}
	return n
}

// NewTelegramBot creates the bot client for token.
func NewTelegramBot(token string) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return b, nil
}

// NotifyRun sends the run summary.
func (t *TelegramNotifier) NotifyRun(ctx context.Context, run *models.BacktestRun) error {
	ctx, span := t.tracer.TraceNotification(ctx, "telegram")
	defer span.End()

	err := t.breaker.Execute(ctx, func(ctx context.Context) error { return t.send(ctx, run) })
	t.tracer.RecordNotificationResult(span, err)

	entry := t.logger.WithComponent("telegram_notifier").WithField("chat_id", t.chatID)
	if run != nil {
		entry = entry.WithField("run_id", run.ID.String())
	}
	if err != nil {
		entry.WithError(err).Warn("Failed to send run notification")
		return err
	}
	entry.Info("Sent run notification")
	return nil
}

// Breaker exposes the circuit breaker guarding sends.
func (t *TelegramNotifier) Breaker() *CircuitBreaker {
	return t.breaker
}

func (t *TelegramNotifier) send(ctx context.Context, run *models.BacktestRun) error {
	if t.chatID == 0 {
		return ErrNoChat
	}
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      FormatRunMessage(run, t.maxPairs),
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// FormatRunMessage renders a MarkdownV2 summary listing at most maxPairs pairs by final equity.
func FormatRunMessage(run *models.BacktestRun, maxPairs int) string {
	esc := bot.EscapeMarkdown
	var b strings.Builder

	b.WriteString("📊 *Backtest completed*\n\n")
	fmt.Fprintf(&b, "Run: `%s`\n", run.ID.String())
	fmt.Fprintf(&b, "Distance: %s, threshold %s\n", esc(run.Params.Distance), esc(fmt.Sprintf("%g", run.Params.Threshold)))
	fmt.Fprintf(&b, "Test window: %s to %s\n",
		esc(run.TestStart.UTC().Format("2006-01-02")), esc(run.TestEnd.UTC().Format("2006-01-02")))
	fmt.Fprintf(&b, "Pairs: %d ok, %d failed\n", len(run.Results), len(run.Failures))

	results := append([]models.PairResult(nil), run.Results...)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Report.FinalEquity.GreaterThan(results[j].Report.FinalEquity)
	})
	if len(results) > 0 {
		b.WriteString("\n*Best pairs*\n")
	}
	for i, res := range results {
		if i == maxPairs {
			fmt.Fprintf(&b, "%s\n", esc(fmt.Sprintf("...and %d more", len(results)-maxPairs)))
			break
		}
		line := fmt.Sprintf("%d. %s: equity %s (%s%%), max drawdown %s%%, %d entries",
			res.Pair.Rank, res.Pair.Name(),
			res.Report.FinalEquity.StringFixed(4),
			res.Report.TotalReturn.Shift(2).StringFixed(2),
			res.Report.MaxDrawdown.Shift(2).StringFixed(2),
			res.Report.Entries,
		)
		b.WriteString(esc(line))
		b.WriteString("\n")
	}

	if len(run.Failures) > 0 {
		b.WriteString("\n*Failed pairs*\n")
		for _, f := range run.Failures {
			b.WriteString(esc(fmt.Sprintf("%s at %s: %s", f.Pair.Name(), f.Stage, f.Error)))
			b.WriteString("\n")
		}
	}
	return b.String()
}
