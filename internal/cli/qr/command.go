package qr

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ms-validation/internal/cli/bootstrap"
	qr "ms-validation/internal/tickets/qr_codec"
)

type signOptions struct {
	ticketID     string
	ticketNumber string
	campaignID   string
	pngPath      string
	size         int
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "QR payload tools",
	}
	cmd.AddCommand(newSignCommand())
	return cmd
}

func newSignCommand() *cobra.Command {
	opts := &signOptions{}
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a signed QR payload for a ticket",
		Long:  `Sign a ticket claim with QR_SECRET_KEY and print the payload, optionally writing it as a PNG image.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := bootstrap.Load("validation-cli")
			defer log.Close()

			codec, err := qr.NewCodec(cfg.QR.SecretKey)
			if err != nil {
				return err
			}
			return runSign(cmd, codec, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ticketID, "ticket-id", "", "Ticket ID (required)")
	cmd.Flags().StringVar(&opts.ticketNumber, "ticket-number", "", "Ticket number (required)")
	cmd.Flags().StringVar(&opts.campaignID, "campaign-id", "", "Campaign ID (required)")
	cmd.Flags().StringVar(&opts.pngPath, "png", "", "Write the QR image to this file")
	cmd.Flags().IntVar(&opts.size, "size", 256, "PNG size in pixels")
	_ = cmd.MarkFlagRequired("ticket-id")
	_ = cmd.MarkFlagRequired("ticket-number")
	_ = cmd.MarkFlagRequired("campaign-id")

	return cmd
}

func runSign(cmd *cobra.Command, codec *qr.Codec, opts *signOptions) error {
	claim := qr.Claim{TicketID: opts.ticketID, TicketNumber: opts.ticketNumber, CampaignID: opts.campaignID}

	payload, err := codec.Sign(claim)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), payload)

	if opts.pngPath == "" {
		return nil
	}
	png, err := codec.RenderPNG(claim, opts.size)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.pngPath, png, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.pngPath, err)
	}
	return nil
}
