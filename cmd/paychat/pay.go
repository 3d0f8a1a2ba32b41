package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"paychat/internal/config"
	"paychat/internal/domain"
	"paychat/internal/notice"
	"paychat/internal/notify"
	"paychat/internal/payment"

	"github.com/spf13/cobra"
)

type payOptions struct {
	amount      string
	upi         string
	recipient   string
	channelName string
	chatID      string
	simulate    bool
	outcome     string
	noWait      bool
}

func payCmd() *cobra.Command {
	var opts payOptions
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Send a payment and announce it in a chat",
		Long: `Collects a payment through the gateway checkout. Once the backend verifies
it, a confirmation is posted to the chat immediately and a notification for
the recipient follows after dispatch.delayMs. Missing fields are prompted for.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPay(cmd.Context(), opts, os.Stdin)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.amount, "amount", "", "amount in rupees (e.g. 499.50)")
	f.StringVar(&opts.upi, "upi", "", "recipient UPI ID or account number")
	f.StringVar(&opts.recipient, "to", "", "recipient name")
	f.StringVar(&opts.channelName, "channel", "", "chat transport (default: dispatch.channel)")
	f.StringVar(&opts.chatID, "chat", "", "chat id on the transport (default: dispatch.chatId)")
	f.BoolVar(&opts.simulate, "simulate", false, "sign the checkout locally instead of opening the browser")
	f.StringVar(&opts.outcome, "outcome", "", "with --simulate: force a 'dismissed' or 'failed' checkout")
	f.BoolVar(&opts.noWait, "no-wait", false, "exit without waiting for the recipient notification")
	return cmd
}

func runPay(parent context.Context, opts payOptions, in io.Reader) error {
	outcome, err := checkoutOutcome(opts)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sender, err := senderIdentity(cfg)
	if err != nil {
		return err
	}

	intent, err := promptIntent(opts, in, os.Stdout)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer a.close()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := a.gatewayClient(opts.simulate, outcome)
	if err != nil {
		return err
	}
	conv, err := a.conversation(opts.channelName, opts.chatID)
	if err != nil {
		return err
	}
	name := opts.channelName
	if name == "" {
		name = cfg.Dispatch.Channel
	}
	if err := a.channels.Start(ctx, name); err != nil {
		return err
	}

	collector := payment.NewCollector(payment.CollectorConfig{
		Gateway:      gw,
		Dispatcher:   a.dispatcher,
		Conversation: conv,
		Sender:       sender,
		Notifier:     notice.Multi{notice.NewTerminal(os.Stderr), notice.NewLog(logger)},
		Events:       a.events,
		Logger:       logger,
	})

	receipt, err := collector.Submit(ctx, intent)
	if err != nil {
		if errors.Is(err, payment.ErrCheckoutDismissed) {
			logger.Info("checkout dismissed, nothing was charged")
			return nil
		}
		return err
	}
	logger.Info("payment verified", "payment_id", receipt.Event.PaymentID, "order_id", receipt.Event.OrderID)

	if receipt.DispatchErr != nil {
		return fmt.Errorf("payment %s verified but not announced: %w", receipt.Event.PaymentID, receipt.DispatchErr)
	}
	if opts.noWait {
		receipt.Task.Cancel()
		logger.Info("recipient notification skipped; send it later with 'paychat ledger retry'",
			"payment_id", receipt.Event.PaymentID)
		return nil
	}
	if err := receipt.Task.Wait(); err != nil {
		logger.Warn("recipient notification not delivered; retry with 'paychat ledger retry'",
			"payment_id", receipt.Event.PaymentID, "err", err)
	}
	for _, e := range a.events.PaymentTimeline(receipt.Event.PaymentID) {
		logger.Debug("payment timeline", "type", e.Type, "source", e.Source, "at", e.Timestamp.Format(time.RFC3339Nano))
	}
	return nil
}

// senderIdentity is the signed-in user from the identity section.
func senderIdentity(cfg *config.Config) (*domain.Identity, error) {
	id := cfg.Identity
	if id.UserID == "" && id.FullName == "" {
		return nil, errors.New("no signed-in user: set identity.fullName (paychat config set identity.fullName <name>)")
	}
	return &domain.Identity{UserID: id.UserID, FullName: id.FullName, Email: id.Email}, nil
}

// promptIntent fills the fields not given as flags from in.
func promptIntent(opts payOptions, in io.Reader, out io.Writer) (domain.PaymentIntent, error) {
	intent := domain.PaymentIntent{
		Amount:         opts.amount,
		UpiOrAccountID: opts.upi,
		RecipientName:  opts.recipient,
	}
	reader := bufio.NewReader(in)
	prompt := func(label string, dst *string) error {
		if strings.TrimSpace(*dst) != "" {
			return nil
		}
		fmt.Fprintf(out, "%s: ", label)
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return fmt.Errorf("read %s: %w", strings.ToLower(label), err)
		}
		*dst = strings.TrimSpace(line)
		return nil
	}
	if err := prompt("Amount (₹)", &intent.Amount); err != nil {
		return intent, err
	}
	if err := prompt("UPI ID / account", &intent.UpiOrAccountID); err != nil {
		return intent, err
	}
	if err := prompt("Recipient name", &intent.RecipientName); err != nil {
		return intent, err
	}
	return intent, nil
}

func groupPayCmd() *cobra.Command {
	var (
		amount      string
		members     int
		split       bool
		channelName string
		chatID      string
	)
	cmd := &cobra.Command{
		Use:   "group-pay",
		Short: "Announce a payment to a group chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			value, err := domain.ParseAmount(amount)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, os.Stdout)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conv, err := a.conversation(channelName, chatID)
			if err != nil {
				return err
			}
			if channelName == "" {
				channelName = cfg.Dispatch.Channel
			}
			if err := a.channels.Start(ctx, channelName); err != nil {
				return err
			}

			msg, err := a.dispatcher.DispatchGroup(ctx, conv, notify.GroupPayment{
				Amount:  value,
				Members: members,
				Split:   split,
			})
			if err != nil {
				return err
			}
			logger.Info("group payment announced", "message_id", msg.ID, "chat_id", conv.ID())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&amount, "amount", "", "total amount in rupees")
	f.IntVar(&members, "members", 0, "number of group members")
	f.BoolVar(&split, "split", false, "split the amount evenly between members")
	f.StringVar(&channelName, "channel", "", "chat transport (default: dispatch.channel)")
	f.StringVar(&chatID, "chat", "", "group chat id")
	cmd.MarkFlagRequired("amount")
	return cmd
}

// checkoutOutcome parses --outcome. Only a simulated checkout can be forced.
func checkoutOutcome(opts payOptions) (domain.CheckoutStatus, error) {
	switch s := domain.CheckoutStatus(opts.outcome); s {
	case "":
		return "", nil
	case domain.CheckoutDismissed, domain.CheckoutFailed:
		if !opts.simulate {
			return "", errors.New("--outcome requires --simulate")
		}
		return s, nil
	default:
		return "", fmt.Errorf("unknown --outcome %q (want dismissed or failed)", opts.outcome)
	}
}
