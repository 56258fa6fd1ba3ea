package usecase

import (
	"context"
	"encoding/json"

	"CapitalDash/internal/domain/models"
	xlogger "CapitalDash/pkg/logger"
)

// PeerEvents applies lifecycle events published by other instances sharing
// the event topic to this instance's caches.
type PeerEvents struct {
	svc   *MarketService
	topic string
}

func (s *MarketService) PeerEvents(topic string) *PeerEvents {
	return &PeerEvents{svc: s, topic: topic}
}

func (p *PeerEvents) Topic() string { return p.topic }

// Handle never fails on a malformed payload; redelivery would not fix it.
func (p *PeerEvents) Handle(ctx context.Context, data []byte) error {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		p.svc.logger.Warn("skipping undecodable event", xlogger.Error(err))
		return nil
	}
	if ev.Source == p.svc.cfg.Instance {
		return nil
	}
	switch ev.Type {
	case models.EventRefreshCompleted:
		p.svc.caches.ClearResponses(ctx)
	case models.EventCacheCleared:
		p.svc.caches.ClearAll(ctx)
	default:
		return nil
	}
	p.svc.logger.Debug("applied peer event", xlogger.String("type", ev.Type), xlogger.String("source", ev.Source))
	return nil
}
