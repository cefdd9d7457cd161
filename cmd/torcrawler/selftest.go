package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// NewSelfTestCmd creates the selftest command.
func NewSelfTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Check Tor routing and identity rotation without crawling",
		Long: `Selftest connects to Tor exactly as crawl would, confirms that traffic is
routed through Tor and draws several new circuits, printing the exit
address observed after each one.

With strictRotation, the command fails if every circuit had the same
exit address.`,
		Args: cobra.NoArgs,
		RunE: runSelfTestCmd,
	}
}

func runSelfTestCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadJob(cmd)
	if err != nil {
		return err
	}
	if !cfg.UseProxy {
		return errors.New("selftest requires useProxy: true")
	}

	logger := newLogger(cfg)
	ctx, cancel := signalContext(cmd)
	defer cancel()

	nw, err := setupNetwork(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer nw.Close()

	out := cmd.OutOrStdout()
	if v, err := nw.controller.Version(ctx); err == nil {
		fmt.Fprintf(out, "Tor version:      %s\n", v)
	}

	report, err := nw.policy.SelfTest(ctx, nw.controller)
	for i, addr := range report.Addresses {
		fmt.Fprintf(out, "Circuit %-2d        %s\n", i, addr)
	}
	if err != nil {
		return fmt.Errorf("self-test failed: %w", err)
	}

	fmt.Fprintf(out, "Distinct addrs:   %d of %d\n", report.Distinct, len(report.Addresses))
	if !report.RotationChecked {
		fmt.Fprintln(out, "Rotation:         not checked (rotateIdentity is false)")
	}
	fmt.Fprintln(out, "Self-test passed")
	return nil
}
