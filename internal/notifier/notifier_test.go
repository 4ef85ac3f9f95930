package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Compounder/internal/model"
	"Compounder/internal/valuation"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []map[string]string
	failures int
	updates  string
}

func (f *fakeBot) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
			if f.failures > 0 {
				f.failures--
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte("bad gateway"))
				return
			}
			body, _ := io.ReadAll(r.Body)
			var payload map[string]string
			_ = json.Unmarshal(body, &payload)
			f.sent = append(f.sent, payload)
			_, _ = w.Write([]byte(`{"ok":true}`))
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			_, _ = w.Write([]byte(f.updates))
			f.updates = `{"ok":true,"result":[]}`
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestNotifier(t *testing.T, bot *fakeBot) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(bot.handler(t))
	t.Cleanup(srv.Close)
	n := NewTelegramNotifier("TOKEN", "42", "", nil)
	n.APIURL = srv.URL
	return n
}

func TestSend(t *testing.T) {
	bot := &fakeBot{}
	n := newTestNotifier(t, bot)

	require.NoError(t, n.Send(context.Background(), "<b>hello</b>"))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, "42", bot.sent[0]["chat_id"])
	assert.Equal(t, "HTML", bot.sent[0]["parse_mode"])
	assert.Equal(t, "<b>hello</b>", bot.sent[0]["text"])
}

func TestSendWithRetryRecovers(t *testing.T) {
	bot := &fakeBot{failures: 1}
	n := newTestNotifier(t, bot)

	require.NoError(t, n.SendWithRetry(context.Background(), "hi", 2))
	assert.Len(t, bot.sent, 1)
}

func TestSendWithRetryExhausted(t *testing.T) {
	bot := &fakeBot{failures: 5}
	n := newTestNotifier(t, bot)

	err := n.SendWithRetry(context.Background(), "hi", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestSendWithRetryCancelled(t *testing.T) {
	bot := &fakeBot{failures: 5}
	n := newTestNotifier(t, bot)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := n.SendWithRetry(ctx, "hi", 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollingHandlesOwnChatOnly(t *testing.T) {
	bot := &fakeBot{updates: `{"ok":true,"result":[
		{"update_id":7,"message":{"text":"/status","chat":{"id":99}}},
		{"update_id":8,"message":{"text":" /holdings ","chat":{"id":42}}}
	]}`}
	n := newTestNotifier(t, bot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	commands := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.StartPolling(ctx, func(_ context.Context, cmd string) string {
			commands <- cmd
			return "reply to " + cmd
		})
	}()

	select {
	case cmd := <-commands:
		assert.Equal(t, "/holdings", cmd)
	case <-time.After(5 * time.Second):
		t.Fatal("no command handled")
	}
	require.Eventually(t, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return len(bot.sent) == 1
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, commands)
	assert.Equal(t, "reply to /holdings", bot.sent[0]["text"])
}

func TestFormatCycleReport(t *testing.T) {
	r := &model.CycleReport{
		Target:       "ETH-DFI",
		Action:       model.ActionLiquidity,
		Spendable:    decimal.RequireFromString("1"),
		TokenBalance: decimal.RequireFromString("10"),
		Received:     decimal.RequireFromString("1.5"),
		ReceivedSym:  "ETH-DFI",
		NextTarget:   "BTC ETH-DFI",
		Consolidated: 1,
		FinishedAt:   time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
	}
	msg := FormatCycleReport(r)
	assert.Contains(t, msg, "Compound cycle")
	assert.Contains(t, msg, "add liquidity")
	assert.Contains(t, msg, "Balance: 11.00000000")
	assert.Contains(t, msg, "Received: 1.50000000 ETH-DFI")
	assert.Contains(t, msg, "Consolidated: 1")

	r.Error = "swap failed: <pool locked>"
	msg = FormatCycleReport(r)
	assert.Contains(t, msg, "Compound failed")
	assert.Contains(t, msg, "&lt;pool locked&gt;")
}

func TestFormatHoldingsAndStatus(t *testing.T) {
	r := &valuation.Report{
		Currency: "usd",
		Holdings: []valuation.Holding{
			{Symbol: "ETH", Amount: decimal.RequireFromString("0.5"), Value: decimal.RequireFromString("1000"), Priced: true},
			{Symbol: "XYZ", Amount: decimal.RequireFromString("3")},
		},
		Total: decimal.RequireFromString("1000"),
	}
	msg := FormatHoldings(r)
	assert.Contains(t, msg, "ETH: 0.50000000 (1000.00 USD)")
	assert.Contains(t, msg, "XYZ: 3.00000000 (no price)")
	assert.Contains(t, msg, "Total: 1000.00 USD")

	status := FormatStatus(model.RotationState{Target: "ETH", Held: 1, Compounded: 4, Rotations: 2}, "ETH 2 BTC", 1, &model.CycleReport{Action: model.ActionSwap, FinishedAt: time.Now()})
	assert.Contains(t, status, "Active target: ETH (held 1)")
	assert.Contains(t, status, "Rotates after 1 more cycle(s)")
	assert.NotContains(t, FormatStatus(model.RotationState{}, "ETH", 0, nil), "Rotates after")
	assert.Contains(t, status, "Compounded: 4 | Rotations: 2")
	assert.Contains(t, status, "Last cycle: swap ok")
	assert.Contains(t, FormatHelp(), "/compound")
}
