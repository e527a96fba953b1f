package notifier_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/internal/notifier"
	"github.com/HellEvro/Arbitrage/pkg/config"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

type mockSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sent = append(m.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func testCfg() config.TelegramConfig {
	return config.TelegramConfig{
		Enabled:           true,
		ChatID:            42,
		NotifyIntervalSec: 60,
		MinProfitUSDT:     1.0,
	}
}

func opp(symbol string, net float64) models.ArbitrageOpportunity {
	return models.ArbitrageOpportunity{
		Symbol:       symbol,
		BuyExchange:  "bybit",
		BuyPrice:     100,
		BuyFeePct:    0.1,
		SellExchange: "okx",
		SellPrice:    105,
		SellFeePct:   0.15,
		SpreadUSDT:   net,
		SpreadPct:    5,
	}
}

func TestNotify_SendsTopOpportunity(t *testing.T) {
	sender := &mockSender{}
	n := notifier.NewWithSender(testCfg(), sender, zap.NewNop())

	n.Notify([]models.ArbitrageOpportunity{opp("BTCUSDT", 10), opp("ETHUSDT", 5)})

	if sender.count() != 1 {
		t.Fatalf("Expected 1 message, got %d", sender.count())
	}
	msg := sender.sent[0]
	if msg.ChatID != 42 {
		t.Errorf("Wrong chat id: %d", msg.ChatID)
	}
	if !strings.Contains(msg.Text, "BTCUSDT") || !strings.Contains(msg.Text, "Bybit") || !strings.Contains(msg.Text, "Okx") {
		t.Errorf("Message missing details: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "+10.00 USDT") {
		t.Errorf("Message missing net profit: %q", msg.Text)
	}
}

func TestNotify_BelowProfitGateSkipped(t *testing.T) {
	sender := &mockSender{}
	n := notifier.NewWithSender(testCfg(), sender, zap.NewNop())

	n.Notify([]models.ArbitrageOpportunity{opp("BTCUSDT", 0.5)})

	if sender.count() != 0 {
		t.Errorf("Opportunity below min profit must not be sent, got %d messages", sender.count())
	}
}

func TestNotify_ThrottlesSameSymbol(t *testing.T) {
	sender := &mockSender{}
	n := notifier.NewWithSender(testCfg(), sender, zap.NewNop())

	n.Notify([]models.ArbitrageOpportunity{opp("BTCUSDT", 10)})
	n.Notify([]models.ArbitrageOpportunity{opp("BTCUSDT", 12)})

	if sender.count() != 1 {
		t.Errorf("Same symbol within interval must be throttled, got %d messages", sender.count())
	}
}

func TestNotify_NewSymbolBypassesThrottle(t *testing.T) {
	sender := &mockSender{}
	n := notifier.NewWithSender(testCfg(), sender, zap.NewNop())

	n.Notify([]models.ArbitrageOpportunity{opp("BTCUSDT", 10)})
	n.Notify([]models.ArbitrageOpportunity{opp("ETHUSDT", 10)})

	if sender.count() != 2 {
		t.Errorf("A new top symbol should send immediately, got %d messages", sender.count())
	}
}

func TestNotify_SameSymbolAfterInterval(t *testing.T) {
	sender := &mockSender{}
	n := notifier.NewWithSender(testCfg(), sender, zap.NewNop())

	now := time.Unix(1000, 0)
	n.SetNow(func() time.Time { return now })

	n.Notify([]models.ArbitrageOpportunity{opp("BTCUSDT", 10)})
	now = now.Add(61 * time.Second)
	n.Notify([]models.ArbitrageOpportunity{opp("BTCUSDT", 10)})

	if sender.count() != 2 {
		t.Errorf("Same symbol after the interval should send again, got %d messages", sender.count())
	}
}

func TestNotify_NilNotifierIsSafe(t *testing.T) {
	var n *notifier.Notifier
	n.Notify([]models.ArbitrageOpportunity{opp("BTCUSDT", 10)})
}

func TestNew_DisabledReturnsNil(t *testing.T) {
	n, err := notifier.New(config.TelegramConfig{Enabled: false}, zap.NewNop())
	if err != nil || n != nil {
		t.Errorf("Disabled notifier should be nil without error, got %v / %v", n, err)
	}
}

func TestNew_EnabledWithoutTokenFails(t *testing.T) {
	_, err := notifier.New(config.TelegramConfig{Enabled: true, ChatID: 1}, zap.NewNop())
	if err == nil {
		t.Error("Enabled notifier without a token must fail")
	}
}
