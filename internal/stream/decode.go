package stream

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"polyswarm/internal/model"
)

// tradeFrame mirrors the wire shape of an orders_matched frame. Required
// payload fields are pointers so a missing field is distinguishable from a
// zero value.
type tradeFrame struct {
	Type    string        `json:"type"`
	Payload *tradePayload `json:"payload"`
}

type tradePayload struct {
	ConditionID *string          `json:"conditionId"`
	Title       *string          `json:"title"`
	Size        *decimal.Decimal `json:"size"`
	Price       *decimal.Decimal `json:"price"`
	Outcome     *string          `json:"outcome"`

	EventSlug       string   `json:"eventSlug"`
	Slug            string   `json:"slug"`
	ProxyWallet     string   `json:"proxyWallet"`
	Side            string   `json:"side"`
	Timestamp       *float64 `json:"timestamp"`
	OutcomeIndex    *int     `json:"outcomeIndex"`
	TransactionHash string   `json:"transactionHash"`
	Name            string   `json:"name"`
	Pseudonym       string   `json:"pseudonym"`
}

// Decode validates and normalises a raw stream message into a TradeEvent.
// Heartbeats, subscription acks, unrelated event types, and frames missing or
// mistyping a required field are all rejected with ok=false; Decode never
// returns an error. The feed's size field is already a USD notional and is
// used as-is.
func Decode(raw []byte) (model.TradeEvent, bool) {
	var frame tradeFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return model.TradeEvent{}, false
	}
	if frame.Type != "orders_matched" || frame.Payload == nil {
		return model.TradeEvent{}, false
	}

	p := frame.Payload
	if p.ConditionID == nil || p.Title == nil || p.Size == nil || p.Price == nil || p.Outcome == nil {
		return model.TradeEvent{}, false
	}

	ts := time.Now().UTC()
	if p.Timestamp != nil && *p.Timestamp > 0 {
		ts = time.Unix(int64(*p.Timestamp), 0).UTC()
	}

	slug := p.EventSlug
	if slug == "" {
		slug = p.Slug
	}

	traderName := p.Name
	if traderName == "" {
		traderName = p.Pseudonym
	}

	ev := model.TradeEvent{
		MarketID:   *p.ConditionID,
		EventSlug:  slug,
		Title:      *p.Title,
		Outcome:    *p.Outcome,
		Price:      *p.Price,
		Size:       *p.Size,
		Timestamp:  ts,
		Trader:     p.ProxyWallet,
		TraderName: traderName,
	}
	if err := ev.Validate(); err != nil {
		return model.TradeEvent{}, false
	}
	return ev, true
}
