// Package notifier pushes the top opportunity of an evaluation cycle to a
// telegram chat.
package notifier

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/pkg/config"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

// Sender is the subset of the bot API the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier throttles per symbol: the same top symbol is re-announced at most
// once per notify interval, while a new top symbol goes out immediately.
type Notifier struct {
	cfg    config.TelegramConfig
	bot    Sender
	logger *zap.Logger
	now    func() time.Time

	mu             sync.Mutex
	lastSentSymbol string
	lastSentAt     time.Time
}

// New builds a notifier against the real telegram API. Returns nil when the
// notifier is disabled or unconfigured; a nil *Notifier is safe to use.
func New(cfg config.TelegramConfig, logger *zap.Logger) (*Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("notifier: telegram enabled but bot_token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("notifier: telegram enabled but chat_id is not set")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("notifier: create bot: %w", err)
	}
	return NewWithSender(cfg, bot, logger), nil
}

// NewWithSender wires an explicit sender. Used by tests.
func NewWithSender(cfg config.TelegramConfig, bot Sender, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		cfg:    cfg,
		bot:    bot,
		logger: logger.With(zap.String("component", "notifier")),
		now:    time.Now,
	}
}

// SetNow overrides the clock. Used by tests.
func (n *Notifier) SetNow(now func() time.Time) { n.now = now }

// Notify considers the top opportunity of one evaluation cycle. Below the
// profit gate, or within the throttle window for the same symbol, nothing is
// sent.
func (n *Notifier) Notify(opportunities []models.ArbitrageOpportunity) {
	if n == nil || len(opportunities) == 0 {
		return
	}
	top := opportunities[0]
	if top.SpreadUSDT < n.cfg.MinProfitUSDT {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	interval := time.Duration(n.cfg.NotifyIntervalSec * float64(time.Second))
	if n.lastSentSymbol == top.Symbol && now.Sub(n.lastSentAt) < interval {
		return
	}

	msg := tgbotapi.NewMessage(n.cfg.ChatID, formatMessage(top))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("Failed to send telegram notification", zap.Error(err))
		return
	}
	n.logger.Info("Telegram notification sent", zap.String("symbol", top.Symbol))
	n.lastSentSymbol = top.Symbol
	n.lastSentAt = now
}

func formatMessage(opp models.ArbitrageOpportunity) string {
	return fmt.Sprintf(
		"Arbitrage: %s\nBuy on %s at %.6g (fee %.3f%%) -> Sell on %s at %.6g (fee %.3f%%)\nNet: +%.2f USDT (%.3f%%)",
		opp.Symbol,
		capitalize(opp.BuyExchange), opp.BuyPrice, opp.BuyFeePct,
		capitalize(opp.SellExchange), opp.SellPrice, opp.SellFeePct,
		opp.SpreadUSDT, opp.SpreadPct,
	)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
