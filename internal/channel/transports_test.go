package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/websocket"

	"paychat/internal/domain"
)

type fakeTelegramSender struct {
	mu    sync.Mutex
	sent  []tgbotapi.MessageConfig
	errs  []error // returned in order, nil once exhausted
	calls int
}

func (f *fakeTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	msg := c.(tgbotapi.MessageConfig)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: f.calls}, nil
}

func newTestTelegram(sender telegramSender) *Telegram {
	tg := NewTelegram(TelegramConfig{Token: "t", Logger: testLogger()})
	tg.sender = sender
	tg.backoff = func(int) time.Duration { return time.Millisecond }
	return tg
}

func TestTelegram_SendNotStarted(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Logger: testLogger()})
	if err := tg.Send(context.Background(), "1", domain.ChatMessage{Text: "x"}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestTelegram_SendInvalidChatID(t *testing.T) {
	tg := newTestTelegram(&fakeTelegramSender{})
	if err := tg.Send(context.Background(), "room-a", domain.ChatMessage{Text: "x"}); err == nil {
		t.Fatal("expected invalid chat id error")
	}
}

func TestTelegram_SendMarkdown(t *testing.T) {
	f := &fakeTelegramSender{}
	tg := newTestTelegram(f)
	if err := tg.Send(context.Background(), "42", testPaymentMessage(domain.DirectionSent)); err != nil {
		t.Fatal(err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(f.sent))
	}
	if f.sent[0].ChatID != 42 || f.sent[0].ParseMode != "Markdown" {
		t.Errorf("unexpected message config: %+v", f.sent[0])
	}
	if !strings.Contains(f.sent[0].Text, "₹500") {
		t.Errorf("text = %q", f.sent[0].Text)
	}
}

func TestTelegram_FallsBackToPlainText(t *testing.T) {
	f := &fakeTelegramSender{errs: []error{errors.New("Bad Request: can't parse entities")}}
	tg := newTestTelegram(f)
	if err := tg.Send(context.Background(), "42", domain.ChatMessage{Text: "*broken"}); err != nil {
		t.Fatal(err)
	}
	if len(f.sent) != 1 || f.sent[0].ParseMode != "" {
		t.Fatalf("expected one plain-text send, got %+v", f.sent)
	}
}

func TestTelegram_RetriesThenFails(t *testing.T) {
	boom := errors.New("connection reset")
	f := &fakeTelegramSender{errs: []error{boom, boom, boom, boom}}
	tg := newTestTelegram(f)
	err := tg.Send(context.Background(), "42", domain.ChatMessage{Text: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
	if f.calls != telegramMaxSendRetries+1 {
		t.Errorf("calls = %d, want %d", f.calls, telegramMaxSendRetries+1)
	}
}

func TestTelegram_ChunksLongText(t *testing.T) {
	f := &fakeTelegramSender{}
	tg := newTestTelegram(f)
	long := strings.Repeat("line of text\n", 700)
	if err := tg.Send(context.Background(), "42", domain.ChatMessage{Text: long}); err != nil {
		t.Fatal(err)
	}
	if len(f.sent) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(f.sent))
	}
	for _, m := range f.sent {
		if len(m.Text) > telegramMaxMsgLen {
			t.Errorf("chunk of %d bytes exceeds limit", len(m.Text))
		}
	}
}

func TestSlack_StartAndSend(t *testing.T) {
	var (
		mu    sync.Mutex
		posts []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/auth.test"):
			w.Write([]byte(`{"ok":true,"user":"paybot","user_id":"U1"}`))
		case strings.HasSuffix(r.URL.Path, "/chat.postMessage"):
			r.ParseForm()
			mu.Lock()
			posts = append(posts, map[string]string{
				"channel":     r.FormValue("channel"),
				"text":        r.FormValue("text"),
				"attachments": r.FormValue("attachments"),
			})
			mu.Unlock()
			w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewSlack(SlackConfig{BotToken: "xoxb-test", APIURL: srv.URL + "/", Logger: testLogger()})
	if err := s.Send(context.Background(), "C1", domain.ChatMessage{Text: "x"}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted before Start, got %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), "C1", testPaymentMessage(domain.DirectionReceived)); err != nil {
		t.Fatal(err)
	}

	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	p := posts[0]
	if p["channel"] != "C1" || !strings.Contains(p["text"], "₹500") {
		t.Errorf("unexpected post: %+v", p)
	}
	if !strings.Contains(p["attachments"], "Money Received") || !strings.Contains(p["attachments"], "pay_123") {
		t.Errorf("attachments = %s", p["attachments"])
	}
}

func TestSlackAttachments_GroupPayment(t *testing.T) {
	atts := slackAttachments(domain.ChatMessage{Attachments: []domain.Attachment{{Type: "payment", Title: "Group Payment", Text: "t", Color: "#00BCD4"}}})
	if len(atts) != 1 || atts[0].Title != "Group Payment" || atts[0].Color != "#00BCD4" {
		t.Errorf("unexpected attachments: %+v", atts)
	}
}

type fakeDiscordSender struct {
	sent []*discordgo.MessageSend
}

func (f *fakeDiscordSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent = append(f.sent, data)
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func TestDiscord_SendEmbed(t *testing.T) {
	f := &fakeDiscordSender{}
	d := NewDiscord(DiscordConfig{Logger: testLogger()})
	if err := d.Send(context.Background(), "123", domain.ChatMessage{Text: "x"}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	d.sender = f

	if err := d.Send(context.Background(), "123", testPaymentMessage(domain.DirectionSent)); err != nil {
		t.Fatal(err)
	}
	if len(f.sent) != 1 || len(f.sent[0].Embeds) != 1 {
		t.Fatalf("expected one message with one embed, got %+v", f.sent)
	}
	e := f.sent[0].Embeds[0]
	if e.Title != "💸 Payment Sent" || e.Color != discordColorSent {
		t.Errorf("unexpected embed: %+v", e)
	}
	if e.Timestamp != "2024-03-05T09:30:00Z" {
		t.Errorf("timestamp = %q", e.Timestamp)
	}
}

func TestHexColor(t *testing.T) {
	tests := map[string]int{"#00BCD4": 0x00BCD4, "#10B981": 0x10B981, "teal": 0, "": 0}
	for in, want := range tests {
		if got := hexColor(in); got != want {
			t.Errorf("hexColor(%q) = %#x, want %#x", in, got, want)
		}
	}
}

func TestWebSocket_PushesToSubscribers(t *testing.T) {
	ws := NewWebSocketChannel(WSConfig{Logger: testLogger()})
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	if err := ws.Send(context.Background(), "room", domain.ChatMessage{Text: "x"}); !errors.Is(err, ErrNoSubscribers) {
		t.Fatalf("expected ErrNoSubscribers, got %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?chat_id=room"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var status WSMessage
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatal(err)
	}
	if status.Type != "status" || status.ChatID != "room" {
		t.Fatalf("unexpected greeting: %+v", status)
	}

	if err := ws.Send(context.Background(), "room", testPaymentMessage(domain.DirectionReceived)); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got WSMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != "message" || got.Message == nil || got.Message.PaymentDetails == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
	if got.Message.PaymentDetails.PaymentID != "pay_123" || got.Message.PaymentDetails.Direction != domain.DirectionReceived {
		t.Errorf("unexpected details: %+v", got.Message.PaymentDetails)
	}

	if err := ws.Send(context.Background(), "other-room", domain.ChatMessage{Text: "x"}); !errors.Is(err, ErrNoSubscribers) {
		t.Errorf("other chat should have no subscribers, got %v", err)
	}
}

func TestWebSocket_RequiresChatID(t *testing.T) {
	ws := NewWebSocketChannel(WSConfig{Logger: testLogger()})
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
