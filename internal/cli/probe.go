package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"quiz-sync/internal/domain"
)

// NewProbeCmd measures one round trip to the API.
func NewProbeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Measure the round-trip time to the quiz API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), cmd.OutOrStdout(), *configPath)
		},
	}
}

func runProbe(ctx context.Context, out io.Writer, configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	client := newAPIClient(cfg, log)
	sentAt := time.Now()
	if err := client.Probe(ctx); err != nil {
		fmt.Fprintln(out, errStyle.Render("offline")+" "+labelStyle.Render(err.Error()))
		return err
	}
	rtt := time.Since(sentAt)
	q := domain.ClassifyRTT(rtt)
	fmt.Fprintf(out, "%s %s %s\n", okStyle.Render("online"), labelStyle.Render(rtt.Round(time.Millisecond).String()), qualityStyle(q).Render(q.String()))
	return nil
}
