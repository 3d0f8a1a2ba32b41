package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/slack-go/slack"

	"paychat/internal/domain"
)

const slackMaxMsgLen = 4000

const (
	slackColorSent     = "#2563EB"
	slackColorReceived = "#10B981"
)

// Slack posts payment messages to Slack channels with the bot token.
type Slack struct {
	botToken string
	apiURL   string
	client   *slack.Client
	logger   *slog.Logger
	botUID   string
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	APIURL   string // override for tests; must end with "/"
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{botToken: cfg.BotToken, apiURL: cfg.APIURL, logger: cfg.Logger}
}

func (s *Slack) Name() string { return "slack" }

// Start authenticates the bot token.
func (s *Slack) Start(ctx context.Context) error {
	opts := []slack.Option{}
	if s.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(s.apiURL))
	}
	api := slack.New(s.botToken, opts...)

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.client = api
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)
	return nil
}

func (s *Slack) Stop() error { return nil }

// Send posts the text; payment messages carry their details as an attachment
// on the first chunk.
func (s *Slack) Send(ctx context.Context, channelID string, msg domain.ChatMessage) error {
	if s.client == nil {
		return ErrNotStarted
	}
	for i, chunk := range splitText(messageText(msg), slackMaxMsgLen) {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if i == 0 {
			if atts := slackAttachments(msg); len(atts) > 0 {
				opts = append(opts, slack.MsgOptionAttachments(atts...))
			}
		}
		if _, _, err := s.client.PostMessageContext(ctx, channelID, opts...); err != nil {
			s.logger.Error("slack send failed", "channel", channelID, "err", err)
			return fmt.Errorf("slack post: %w", err)
		}
	}
	return nil
}

func slackAttachments(msg domain.ChatMessage) []slack.Attachment {
	var out []slack.Attachment
	if ev := msg.PaymentDetails; ev != nil {
		att := slack.Attachment{
			Color:  slackColorSent,
			Title:  "💸 Payment Sent",
			Footer: "Powered by ChatSphere Pay",
			Fields: []slack.AttachmentField{
				{Title: "Amount", Value: ev.Amount.Display(), Short: true},
				{Title: "Transaction ID", Value: ev.PaymentID, Short: true},
			},
		}
		if ev.Direction == domain.DirectionReceived {
			att.Color = slackColorReceived
			att.Title = "💰 Money Received"
			att.Fields = append(att.Fields, slack.AttachmentField{Title: "From", Value: ev.SenderName, Short: true})
		} else {
			att.Fields = append(att.Fields, slack.AttachmentField{Title: "To", Value: ev.RecipientName, Short: true})
		}
		if !ev.Timestamp.IsZero() {
			att.Ts = json.Number(strconv.FormatInt(ev.Timestamp.Unix(), 10))
		}
		out = append(out, att)
	}
	for _, a := range msg.Attachments {
		out = append(out, slack.Attachment{Color: a.Color, Title: a.Title, Text: a.Text})
	}
	return out
}
