package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"paychat/internal/notify"
	"paychat/internal/store"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var errNoLedger = errors.New("the delivery ledger is disabled (store.enabled=false)")

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect payments and their chat deliveries",
	}
	cmd.AddCommand(ledgerListCmd(), ledgerShowCmd(), ledgerRetryCmd())
	return cmd
}

// openLedger opens the configured ledger for read-only commands.
func openLedger() (*store.Ledger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Store.Enabled {
		return nil, errNoLedger
	}
	return store.Open(cfg.Store.DBPath, logger)
}

func ledgerListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openLedger()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			records, err := db.ListPayments(ctx, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No payments recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PAYMENT\tAMOUNT\tTO\tCHAT\tNOTIFICATION\tWHEN")
			for _, rec := range records {
				state := "-"
				if ds, err := db.Dispatches(ctx, rec.Event.PaymentID); err == nil {
					state = stageStatus(ds, notify.StageNotification)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.Event.PaymentID, rec.Event.Amount.Display(), rec.Event.RecipientName,
					rec.ChatID, state, humanize.Time(rec.CreatedAt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of payments to show")
	return cmd
}

func ledgerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [payment_id]",
		Short: "Show a payment and its delivery history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openLedger()
			if err != nil {
				return err
			}
			defer db.Close()
			return showPayment(context.Background(), os.Stdout, db, args[0])
		},
	}
}

func showPayment(ctx context.Context, w io.Writer, db *store.Ledger, paymentID string) error {
	rec, err := db.Payment(ctx, paymentID)
	if err != nil {
		return err
	}
	ev := rec.Event
	fmt.Fprintf(w, "Payment   %s\n", ev.PaymentID)
	fmt.Fprintf(w, "Order     %s\n", ev.OrderID)
	fmt.Fprintf(w, "Amount    %s\n", ev.Amount.Display())
	fmt.Fprintf(w, "From      %s\n", ev.SenderName)
	fmt.Fprintf(w, "To        %s (%s)\n", ev.RecipientName, ev.UpiID)
	fmt.Fprintf(w, "Chat      %s\n", rec.ChatID)
	fmt.Fprintf(w, "Recorded  %s (%s)\n", rec.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(rec.CreatedAt))

	dispatches, err := db.Dispatches(ctx, paymentID)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nDeliveries:")
	for _, d := range dispatches {
		fmt.Fprintf(w, "  %-13s %-10s attempts=%d", d.Stage, d.Status, d.Attempts)
		if d.LastError != "" {
			fmt.Fprintf(w, " error=%q", d.LastError)
		}
		fmt.Fprintln(w)
	}

	history, err := db.History(ctx, paymentID)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nHistory:")
	for _, h := range history {
		fmt.Fprintf(w, "  %s  %-13s %s", h.CreatedAt.Format("15:04:05"), h.Stage, h.Status)
		if h.Error != "" {
			fmt.Fprintf(w, "  %s", h.Error)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func stageStatus(ds []notify.DispatchRecord, stage notify.Stage) string {
	for _, d := range ds {
		if d.Stage == stage {
			return string(d.Status)
		}
	}
	return "-"
}

func ledgerRetryCmd() *cobra.Command {
	var channelName, chatID string
	cmd := &cobra.Command{
		Use:   "retry [payment_id]",
		Short: "Re-send a recipient notification that failed or was cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Store.Enabled {
				return errNoLedger
			}
			a, err := newApp(cfg, os.Stdout)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if chatID == "" {
				rec, err := a.ledger.Payment(ctx, args[0])
				if err != nil {
					return err
				}
				chatID = rec.ChatID
			}
			if channelName == "" {
				channelName = cfg.Dispatch.Channel
			}
			conv, err := a.conversation(channelName, chatID)
			if err != nil {
				return err
			}
			if err := a.channels.Start(ctx, channelName); err != nil {
				return err
			}
			if err := a.dispatcher.Retry(ctx, conv, args[0]); err != nil {
				return fmt.Errorf("retry notification: %w", err)
			}
			logger.Info("notification delivered", "payment_id", args[0], "chat_id", conv.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&channelName, "channel", "", "chat transport (default: dispatch.channel)")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id (default: the payment's original chat)")
	return cmd
}
