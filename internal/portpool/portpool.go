// Package portpool implements spec.md §4.1: a registered set of
// (ip, port, protocol) triples with an in_use flag, guaranteeing at most
// one container ever holds a given triple.
package portpool

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"github.com/melih/lightd/internal/apierr"
	"github.com/melih/lightd/internal/domain"
	"github.com/melih/lightd/internal/firewall"
	"github.com/melih/lightd/internal/storage"
	"github.com/rs/zerolog/log"
)

const bucket = "ports"

// Entry is one pool row. ID is the storage key, (IP, Port, Protocol) is
// the uniqueness key spec.md §3 names.
type Entry struct {
	ID       string          `json:"id"`
	IP       string          `json:"ip"`
	Port     uint16          `json:"port"`
	Protocol domain.Protocol `json:"protocol"`
	InUse    bool            `json:"in_use"`
}

func key(ip string, port uint16, proto domain.Protocol) string {
	return fmt.Sprintf("%s:%d/%s", ip, port, proto)
}

// Pool is the PortPool component. Every mutator is serialized by a single
// mutex — acceptable at the single-host scale spec.md targets (§4.2 makes
// the same "coarse lock acceptable for low scale" allowance for
// ContainerStore).
type Pool struct {
	db       *storage.DB
	firewall firewall.Applier
	mu       sync.Mutex
}

func New(db *storage.DB, fw firewall.Applier) *Pool {
	return &Pool{db: db, firewall: fw}
}

// Add registers a new pool entry. Returns Conflict if it already exists.
func (p *Pool) Add(ctx context.Context, ip string, port uint16, proto domain.Protocol) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(ip, port, proto)
	var existing Entry
	found, err := p.db.Get(bucket, k, &existing)
	if err != nil {
		return Entry{}, apierr.External(err)
	}
	if found {
		return Entry{}, apierr.Conflict("Port already exists in pool")
	}

	e := Entry{ID: k, IP: ip, Port: port, Protocol: proto, InUse: false}
	if err := p.db.Put(bucket, k, e); err != nil {
		return Entry{}, apierr.External(err)
	}

	if err := p.firewall.Open(ctx, ip, port, proto); err != nil {
		log.Warn().Err(err).Str("port", k).Msg("iptables open failed, port added anyway")
	}

	return e, nil
}

// Reserve marks an entry in_use=true. NotFound/AlreadyInUse on failure.
func (p *Pool) Reserve(ctx context.Context, ip string, port uint16, proto domain.Protocol) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserveLocked(ip, port, proto)
}

func (p *Pool) reserveLocked(ip string, port uint16, proto domain.Protocol) (Entry, error) {
	k := key(ip, port, proto)
	var e Entry
	found, err := p.db.Get(bucket, k, &e)
	if err != nil {
		return Entry{}, apierr.External(err)
	}
	if !found {
		return Entry{}, apierr.NotFound("port %s not found", k)
	}
	if e.InUse {
		return Entry{}, apierr.Conflict("port %s already in use", k)
	}
	e.InUse = true
	if err := p.db.Put(bucket, k, e); err != nil {
		return Entry{}, apierr.External(err)
	}
	return e, nil
}

// Release marks an entry in_use=false. Idempotent: releasing a free or
// absent entry is not an error, at the caller's discretion per spec.md.
func (p *Pool) Release(ctx context.Context, ip string, port uint16, proto domain.Protocol) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(ip, port, proto)
	var e Entry
	found, err := p.db.Get(bucket, k, &e)
	if err != nil {
		return apierr.External(err)
	}
	if !found {
		return nil
	}
	e.InUse = false
	return p.db.Put(bucket, k, e)
}

// PickRandomFree returns a free entry matching proto without marking it
// used — callers follow up with Reserve.
func (p *Pool) PickRandomFree(ctx context.Context, proto domain.Protocol) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var free []Entry
	err := p.db.ForEach(bucket, func(_ string, raw []byte) error {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		if !e.InUse && (proto == "" || e.Protocol == proto) {
			free = append(free, e)
		}
		return nil
	})
	if err != nil {
		return Entry{}, apierr.External(err)
	}
	if len(free) == 0 {
		return Entry{}, apierr.NotFound("no free port available")
	}
	return free[rand.Intn(len(free))], nil
}

// List returns every pool entry.
func (p *Pool) List(ctx context.Context) ([]Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var all []Entry
	err := p.db.ForEach(bucket, func(_ string, raw []byte) error {
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		all = append(all, e)
		return nil
	})
	if err != nil {
		return nil, apierr.External(err)
	}
	return all, nil
}

// BulkDeleteResult reports the outcome for one requested (ip, port).
type BulkDeleteResult struct {
	IP      string `json:"ip"`
	Port    uint16 `json:"port"`
	Deleted bool   `json:"deleted"`
	Reason  string `json:"reason,omitempty"`
}

// BulkDelete deletes every requested (ip, port) pair across all
// protocols registered for it, skipping any entry currently in_use. Per
// spec.md §9's open-question resolution this is partial-success: one
// entry being in_use does not abort the rest of the batch.
func (p *Pool) BulkDelete(ctx context.Context, pairs []struct {
	IP   string
	Port uint16
}) ([]BulkDeleteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var results []BulkDeleteResult
	for _, pair := range pairs {
		deletedAny := false
		conflict := false
		for _, proto := range []domain.Protocol{domain.ProtocolTCP, domain.ProtocolUDP} {
			k := key(pair.IP, pair.Port, proto)
			var e Entry
			found, err := p.db.Get(bucket, k, &e)
			if err != nil {
				return nil, apierr.External(err)
			}
			if !found {
				continue
			}
			if e.InUse {
				conflict = true
				continue
			}
			if err := p.db.Delete(bucket, k); err != nil {
				return nil, apierr.External(err)
			}
			if err := p.firewall.Close(ctx, e.IP, e.Port, e.Protocol); err != nil {
				log.Warn().Err(err).Str("port", k).Msg("iptables close failed")
			}
			deletedAny = true
		}
		switch {
		case deletedAny:
			results = append(results, BulkDeleteResult{IP: pair.IP, Port: pair.Port, Deleted: true})
		case conflict:
			results = append(results, BulkDeleteResult{IP: pair.IP, Port: pair.Port, Deleted: false, Reason: "in_use"})
		default:
			results = append(results, BulkDeleteResult{IP: pair.IP, Port: pair.Port, Deleted: false, Reason: "not_found"})
		}
	}
	return results, nil
}

// Delete removes a single entry, refusing if it is in_use.
func (p *Pool) Delete(ctx context.Context, ip string, port uint16, proto domain.Protocol) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(ip, port, proto)
	var e Entry
	found, err := p.db.Get(bucket, k, &e)
	if err != nil {
		return apierr.External(err)
	}
	if !found {
		return apierr.NotFound("port %s not found", k)
	}
	if e.InUse {
		return apierr.Conflict("port %s is in use", k)
	}
	if err := p.db.Delete(bucket, k); err != nil {
		return apierr.External(err)
	}
	if err := p.firewall.Close(ctx, e.IP, e.Port, e.Protocol); err != nil {
		log.Warn().Err(err).Str("port", k).Msg("iptables close failed")
	}
	return nil
}
