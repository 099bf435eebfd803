package comm

import (
	"log/slog"
	"sync/atomic"

	"github.com/codewandler/peeractor/core/ds"
)

// Rule decides whether peer may send a request named name.
type Rule interface {
	Allow(peer PeerID, name string) bool
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(peer PeerID, name string) bool

func (f RuleFunc) Allow(peer PeerID, name string) bool { return f(peer, name) }

// AllowAll admits every request. It is the default policy.
func AllowAll() Rule { return RuleFunc(func(PeerID, string) bool { return true }) }

// DenyAll rejects every request.
func DenyAll() Rule { return RuleFunc(func(PeerID, string) bool { return false }) }

// AllowPeers admits only the listed peers.
func AllowPeers(peers ...PeerID) Rule {
	set := ds.NewSet(peers...)
	return RuleFunc(func(p PeerID, _ string) bool { return set.Contains(p) })
}

// DenyPeers admits everybody except the listed peers.
func DenyPeers(peers ...PeerID) Rule {
	set := ds.NewSet(peers...)
	return RuleFunc(func(p PeerID, _ string) bool { return !set.Contains(p) })
}

// AllowNames admits only requests for the listed message names.
func AllowNames(names ...string) Rule {
	set := ds.NewSet(names...)
	return RuleFunc(func(_ PeerID, name string) bool { return set.Contains(name) })
}

// All admits a request only if every rule does.
func All(rules ...Rule) Rule {
	return RuleFunc(func(p PeerID, name string) bool {
		for _, r := range rules {
			if !r.Allow(p, name) {
				return false
			}
		}
		return true
	})
}

// FirewallConfig is the declarative form of a policy, as found in config
// files. The zero value allows everything.
type FirewallConfig struct {
	// Default is "allow" or "deny" and applies to peers in neither list.
	Default    string   `yaml:"default" json:"default"`
	AllowPeers []PeerID `yaml:"allow_peers" json:"allow_peers"`
	DenyPeers  []PeerID `yaml:"deny_peers" json:"deny_peers"`
	// AllowNames, if set, restricts the message names anybody may call.
	AllowNames []string `yaml:"allow_names" json:"allow_names"`
}

// Rule compiles the configuration. Denied peers always lose, allowed peers
// win over the default.
func (c FirewallConfig) Rule() Rule {
	allow := ds.NewSet(c.AllowPeers...)
	deny := ds.NewSet(c.DenyPeers...)
	names := ds.NewSet(c.AllowNames...)
	defaultAllow := c.Default != "deny"

	return RuleFunc(func(p PeerID, name string) bool {
		if !names.IsEmpty() && !names.Contains(name) {
			return false
		}
		if deny.Contains(p) {
			return false
		}
		if allow.Contains(p) {
			return true
		}
		return defaultAllow
	})
}

type ruleHolder struct{ rule Rule }

// Firewall holds the active rule; it can be swapped at runtime.
type Firewall struct {
	log  *slog.Logger
	rule atomic.Pointer[ruleHolder]
}

func NewFirewall(r Rule, log *slog.Logger) *Firewall {
	if log == nil {
		log = slog.Default()
	}
	f := &Firewall{log: log}
	f.SetRule(r)
	return f
}

// SetRule replaces the active rule. A nil rule allows everything.
func (f *Firewall) SetRule(r Rule) {
	if r == nil {
		r = AllowAll()
	}
	f.rule.Store(&ruleHolder{rule: r})
}

func (f *Firewall) Allow(peer PeerID, name string) bool {
	ok := f.rule.Load().rule.Allow(peer, name)
	if !ok {
		f.log.Debug("firewall rejected request", slog.String("peer", peer.Short()), slog.String("name", name))
	}
	return ok
}
