// Package settlement talks to the third-party processor that authorizes withdrawals.
//
// Settle never returns an error: transport and decoding failures are folded into
// a Response with status 500 and the error text as data.
package settlement

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/richardliu001/deferred-wallet/internal/config"
	"github.com/richardliu001/deferred-wallet/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatusTransportError is reported when the processor could not be reached or answered garbage.
const StatusTransportError = 500

type Request struct {
	TransactionID uint64          `json:"transaction_id"`
	WalletID      string          `json:"wallet"`
	Amount        decimal.Decimal `json:"amount"`
}

type Response struct {
	Status int    `json:"status"`
	Data   string `json:"data"`
}

type Client interface {
	Settle(ctx context.Context, req Request) Response
}

// Func adapts a plain function to Client.
type Func func(ctx context.Context, req Request) Response

func (f Func) Settle(ctx context.Context, req Request) Response { return f(ctx, req) }

// Fixed always answers with r.
func Fixed(r Response) Client {
	return Func(func(context.Context, Request) Response { return r })
}

type observed struct {
	next Client
	log  *zap.SugaredLogger
}

// Observed wraps c with response logging and metrics.
func Observed(c Client, log *zap.SugaredLogger) Client {
	return &observed{next: c, log: log}
}

func (o *observed) Settle(ctx context.Context, req Request) Response {
	start := time.Now()
	resp := o.next.Settle(ctx, req)
	metrics.ObserveSettlement(resp.Status)
	o.log.Infow("settlement response",
		"transaction_id", req.TransactionID, "status", resp.Status,
		"data", resp.Data, "took", time.Since(start))
	return resp
}

// FromConfig builds the client selected by cfg.Mode.
func FromConfig(cfg config.SettlementConfig, log *zap.SugaredLogger) (Client, error) {
	var c Client
	switch cfg.Mode {
	case "http":
		c = NewHTTPClient(cfg.URL, cfg.Timeout)
	case "stub":
		outcomes := DefaultOutcomes
		if len(cfg.StubOutcomes) > 0 {
			outcomes = make([]Outcome, 0, len(cfg.StubOutcomes))
			for _, o := range cfg.StubOutcomes {
				outcomes = append(outcomes, Outcome{
					Response: Response{Status: o.Status, Data: o.Data},
					Weight:   o.Weight,
				})
			}
		}
		stub, err := NewStub(outcomes, rand.NewSource(time.Now().UnixNano()))
		if err != nil {
			return nil, err
		}
		log.Warn("settlement running in stub mode, no real processor is called")
		c = stub
	default:
		return nil, fmt.Errorf("unknown settlement mode %q", cfg.Mode)
	}
	return Observed(c, log), nil
}
