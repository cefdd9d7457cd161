package rotation

import (
	"context"
	"fmt"
)

// TorChecker reports whether traffic is routed through Tor.
type TorChecker interface {
	UsingTor(ctx context.Context) (bool, error)
}

// SelfTestReport is the result of SelfTest.
type SelfTestReport struct {
	// Addresses are the external addresses observed, in order.
	Addresses []string

	// Distinct is the number of distinct addresses observed.
	Distinct int

	// RotationChecked is false when rotation was not exercised.
	RotationChecked bool
}

// SelfTest validates the pipeline before any crawl traffic. It requires
// the Tor check page to confirm Tor, then draws max(3, limit) new circuits
// and probes the address after each. If every address is the same, it
// warns, or in ModeStrict fails with ErrRotationNonFunctional.
// The last observed address becomes the session address.
func (p *Policy) SelfTest(ctx context.Context, checker TorChecker) (SelfTestReport, error) {
	var report SelfTestReport

	p.logger.Info("checking that traffic is routed through tor")
	ok, err := checker.UsingTor(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrTorNotRunning, err)
	}
	if !ok {
		return report, ErrTorNotRunning
	}

	addr, err := p.ctrl.ExternalAddress(ctx)
	if err != nil {
		return report, err
	}
	report.Addresses = append(report.Addresses, addr)

	if p.enabled {
		report.RotationChecked = true
		p.logger.Info("validating identity rotation")

		rounds := max(3, p.limit)
		for range rounds {
			if err := p.ctrl.NewCircuit(ctx); err != nil {
				return report, err
			}
			addr, err = p.ctrl.ExternalAddress(ctx)
			if err != nil {
				return report, err
			}
			report.Addresses = append(report.Addresses, addr)
		}
	}

	seen := make(map[string]struct{}, len(report.Addresses))
	for _, a := range report.Addresses {
		seen[a] = struct{}{}
	}
	report.Distinct = len(seen)

	p.mu.Lock()
	p.session.Address = addr
	p.mu.Unlock()

	if report.RotationChecked && report.Distinct == 1 {
		if p.mode == ModeStrict {
			return report, fmt.Errorf("%w: address %s did not change over %d circuits",
				ErrRotationNonFunctional, addr, len(report.Addresses))
		}
		p.logger.Warn("external address was the same for every circuit; check that tor is running correctly",
			"address", addr, "circuits", len(report.Addresses))
	}
	return report, nil
}
