package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"paychat/internal/domain"
)

const discordMaxMsgLen = 2000

const (
	discordColorSent     = 0x2563EB
	discordColorReceived = 0x10B981
)

// discordSender is the part of the Discord session used to deliver messages.
type discordSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts payment messages to Discord channels through a bot.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	sender  discordSender
	logger  *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{token: cfg.Token, guildID: cfg.GuildID, logger: cfg.Logger}
}

func (d *Discord) Name() string { return "discord" }

// Start connects the bot and registers the /chat-id command, which tells a
// user which id to address payments in that channel to.
func (d *Discord) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand || i.ApplicationCommandData().Name != "chat-id" {
			return
		}
		err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "Payment notifications can be posted here. Chat ID: " + i.ChannelID,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
		if err != nil {
			d.logger.Warn("discord interaction reply failed", "err", err)
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.session = session
	d.sender = session
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	_, err = session.ApplicationCommandCreate(session.State.User.ID, d.guildID, &discordgo.ApplicationCommand{
		Name:        "chat-id",
		Description: "Show the chat id payment notifications use for this channel",
	})
	if err != nil {
		d.logger.Warn("failed to register slash command", "command", "chat-id", "err", err)
	}

	go func() {
		<-ctx.Done()
		d.Stop()
	}()
	return nil
}

func (d *Discord) Stop() error {
	if d.session == nil {
		return nil
	}
	d.logger.Info("discord bot disconnecting")
	return d.session.Close()
}

// Send posts the text; payment messages carry an embed on the first chunk.
func (d *Discord) Send(ctx context.Context, channelID string, msg domain.ChatMessage) error {
	if d.sender == nil {
		return ErrNotStarted
	}
	for i, chunk := range splitText(messageText(msg), discordMaxMsgLen) {
		data := &discordgo.MessageSend{Content: chunk}
		if i == 0 {
			data.Embeds = discordEmbeds(msg)
		}
		if _, err := d.sender.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx)); err != nil {
			d.logger.Error("discord send failed", "channel", channelID, "err", err)
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func discordEmbeds(msg domain.ChatMessage) []*discordgo.MessageEmbed {
	var out []*discordgo.MessageEmbed
	if ev := msg.PaymentDetails; ev != nil {
		e := &discordgo.MessageEmbed{
			Title: "💸 Payment Sent",
			Color: discordColorSent,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Amount", Value: ev.Amount.Display(), Inline: true},
				{Name: "Transaction ID", Value: ev.PaymentID, Inline: true},
			},
			Footer: &discordgo.MessageEmbedFooter{Text: "Powered by ChatSphere Pay"},
		}
		if ev.Direction == domain.DirectionReceived {
			e.Title = "💰 Money Received"
			e.Color = discordColorReceived
			e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "From", Value: ev.SenderName, Inline: true})
		} else {
			e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "To", Value: ev.RecipientName, Inline: true})
		}
		if !ev.Timestamp.IsZero() {
			e.Timestamp = ev.Timestamp.UTC().Format(time.RFC3339)
		}
		out = append(out, e)
	}
	for _, a := range msg.Attachments {
		out = append(out, &discordgo.MessageEmbed{Title: a.Title, Description: a.Text, Color: hexColor(a.Color)})
	}
	return out
}

// hexColor parses "#RRGGBB"; anything else is 0.
func hexColor(s string) int {
	var c int
	if _, err := fmt.Sscanf(s, "#%06x", &c); err != nil {
		return 0
	}
	return c
}
