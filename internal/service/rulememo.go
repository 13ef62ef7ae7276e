package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jack/qr-redirect-service/internal/model"
)

// decodedRules holds decoded rule sets per short code id so repeated scans
// skip condition decoding. A nil *decodedRules is a disabled cache.
type decodedRules struct {
	lru *expirable.LRU[string, []model.RoutingRule]
}

func newDecodedRules(size int, ttl time.Duration) *decodedRules {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &decodedRules{lru: expirable.NewLRU[string, []model.RoutingRule](size, nil, ttl)}
}

func (d *decodedRules) get(shortCodeID string) ([]model.RoutingRule, bool) {
	if d == nil {
		return nil, false
	}
	return d.lru.Get(shortCodeID)
}

func (d *decodedRules) put(shortCodeID string, rules []model.RoutingRule) {
	if d == nil {
		return
	}
	d.lru.Add(shortCodeID, rules)
}

func (d *decodedRules) remove(shortCodeID string) {
	if d == nil {
		return
	}
	d.lru.Remove(shortCodeID)
}
