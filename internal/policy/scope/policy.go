// Package scope decides which discovered outlinks the crawl follows.
package scope

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
)

// Defaults applied when Config leaves a limit unset.
const (
	DefaultMaxHops      = 20
	DefaultMaxTransHops = 3
)

// Config bounds the crawl.
type Config struct {
	// MaxHops rejects links whose hop path is longer than this.
	MaxHops int
	// MaxTransHops bounds the trailing run of non-navlink hops (embeds,
	// redirects, inferred) that may leave the seed hosts.
	MaxTransHops int
	// Blocklist holds hosts never fetched, exact or "*.suffix".
	Blocklist []string
	// AllowHosts are in scope in addition to the seed hosts.
	AllowHosts []string
}

// Policy accepts navlinks on a seed host and short transclusion chains from
// in-scope pages wherever they are hosted. It is safe for concurrent use.
type Policy struct {
	mu           sync.RWMutex
	hosts        map[string]struct{}
	maxHops      int
	maxTransHops int
	blocked      *hostBlocklist
}

var _ crawler.Policy = (*Policy)(nil)

// New builds a Policy from cfg.
func New(cfg Config) *Policy {
	maxHops := cfg.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	maxTrans := cfg.MaxTransHops
	if maxTrans <= 0 {
		maxTrans = DefaultMaxTransHops
	}
	p := &Policy{
		hosts:        make(map[string]struct{}),
		maxHops:      maxHops,
		maxTransHops: maxTrans,
		blocked:      newHostBlocklist(cfg.Blocklist),
	}
	for _, h := range cfg.AllowHosts {
		if h = canonicalHost(h); h != "" {
			p.hosts[h] = struct{}{}
		}
	}
	return p
}

// AddSeed puts the seed's host in scope.
func (p *Policy) AddSeed(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse seed %q: %w", rawURL, err)
	}
	host := canonicalHost(u.Hostname())
	if host == "" {
		return fmt.Errorf("seed %q has no host", rawURL)
	}
	p.mu.Lock()
	p.hosts[host] = struct{}{}
	p.mu.Unlock()
	return nil
}

// InScope implements crawler.Policy.
func (p *Policy) InScope(link *crawler.Resource) bool {
	u, err := url.Parse(link.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := canonicalHost(u.Hostname())
	if host == "" || p.blocked.Blocks(host) {
		return false
	}
	if len(link.HopPath) > p.maxHops {
		return false
	}
	if p.seedHost(host) {
		return true
	}
	trans := transHops(link.HopPath)
	return trans > 0 && trans <= p.maxTransHops
}

// SeedHosts returns the hosts currently in scope.
func (p *Policy) SeedHosts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.hosts))
	for h := range p.hosts {
		out = append(out, h)
	}
	return out
}

func (p *Policy) seedHost(host string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.hosts[host]
	return ok
}

// transHops counts the trailing hops that are not navlinks.
func transHops(hopPath string) int {
	n := 0
	for i := len(hopPath) - 1; i >= 0; i-- {
		if crawler.Hop(hopPath[i:i+1]) == crawler.HopNavlink {
			break
		}
		n++
	}
	return n
}

func canonicalHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	return strings.TrimPrefix(host, "www.")
}
