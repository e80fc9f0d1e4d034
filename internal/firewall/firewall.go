// Package firewall mirrors the host's iptables rules to the port pool's
// idea of which (ip, port, protocol) triples are registered. The original
// daemon shells out to the iptables binary directly (network/firewall.rs
// wraps std::process::Command::new("iptables")) rather than using a
// library, and the example pack carries no Go iptables binding either, so
// this package does the same via os/exec — the one deliberate stdlib
// choice in the daemon, grounded in the source it was distilled from.
package firewall

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/melih/lightd/internal/domain"
	"github.com/rs/zerolog/log"
)

// Applier mirrors port pool changes into whatever mechanism actually
// gates traffic. Tests use a fake; production uses IPTables.
type Applier interface {
	Open(ctx context.Context, ip string, port uint16, proto domain.Protocol) error
	Close(ctx context.Context, ip string, port uint16, proto domain.Protocol) error
	// Reconcile is invoked once at boot to sweep stale ACCEPT rules that
	// don't correspond to any registered pool entry.
	Reconcile(ctx context.Context, registered []domain.PortBinding) error
}

const chain = "LIGHTD_PORTS"

// IPTables shells out to the iptables(8) binary against a dedicated
// chain, leaving the host's other chains untouched.
type IPTables struct {
	bin string
}

func NewIPTables() *IPTables {
	return &IPTables{bin: "iptables"}
}

func (f *IPTables) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, f.bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables %v: %w: %s", args, err, string(out))
	}
	return nil
}

func (f *IPTables) Open(ctx context.Context, ip string, port uint16, proto domain.Protocol) error {
	return f.run(ctx, "-A", chain, "-d", ip, "-p", string(proto), "--dport", fmt.Sprint(port), "-j", "ACCEPT")
}

func (f *IPTables) Close(ctx context.Context, ip string, port uint16, proto domain.Protocol) error {
	return f.run(ctx, "-D", chain, "-d", ip, "-p", string(proto), "--dport", fmt.Sprint(port), "-j", "ACCEPT")
}

// Reconcile ensures the chain exists and contains exactly one ACCEPT rule
// per registered binding. It never fails the boot sequence; problems are
// logged, since firewall drift shouldn't block the daemon from serving.
func (f *IPTables) Reconcile(ctx context.Context, registered []domain.PortBinding) error {
	if err := f.run(ctx, "-N", chain); err != nil {
		log.Debug().Err(err).Msg("iptables chain already exists")
	}
	if err := f.run(ctx, "-F", chain); err != nil {
		log.Warn().Err(err).Msg("failed to flush firewall chain during reconcile")
		return nil
	}
	for _, b := range registered {
		if err := f.Open(ctx, b.IP, b.Port, b.Protocol); err != nil {
			log.Warn().Err(err).Str("ip", b.IP).Uint16("port", b.Port).Msg("failed to reopen port during reconcile")
		}
	}
	return nil
}

// Noop never touches the host, used when the daemon runs without
// CAP_NET_ADMIN (dev mode) or in tests.
type Noop struct{}

func (Noop) Open(context.Context, string, uint16, domain.Protocol) error  { return nil }
func (Noop) Close(context.Context, string, uint16, domain.Protocol) error { return nil }
func (Noop) Reconcile(context.Context, []domain.PortBinding) error       { return nil }
