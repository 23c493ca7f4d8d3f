package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/settlement"
	"github.com/alanyoungcy/ratecore/internal/sizing"
	"github.com/alanyoungcy/ratecore/internal/soap"
)

// IbtPricer values the interest-bearing token of an asset at a timestamp.
type IbtPricer interface {
	IbtPrice(ctx context.Context, asset common.Address, asOf uint64) (*uint256.Int, error)
}

// OpenRequest opens a swap from the trader's total amount.
type OpenRequest struct {
	Asset       common.Address
	Direction   domain.Direction
	TotalAmount uint256.Int
	FixedRate   uint256.Int
	Timestamp   uint64
}

// OpenResult is the sized position and the book it joined.
type OpenResult struct {
	Sizing    domain.DerivativeSizing
	IbtPrice  uint256.Int
	Position  domain.PositionEvent
	Indicator domain.SoapIndicator
}

// CloseRequest removes a position previously returned by OpenSwap.
type CloseRequest struct {
	Asset     common.Address
	Direction domain.Direction
	Position  domain.PositionEvent
	Timestamp uint64
}

// CloseResult is the settled position and the book it left.
type CloseResult struct {
	Payoff    *big.Int
	IncomeTax uint256.Int
	IbtPrice  uint256.Int
	Indicator domain.SoapIndicator
}

// LedgerService sizes swaps and keeps the SOAP books of every asset. Each
// (asset, direction) book has a single writer at a time.
type LedgerService struct {
	assets     *AssetRegistry
	prices     IbtPricer
	indicators domain.SoapIndicatorStore
	locks      domain.LockManager
	bus        domain.SignalBus
	audit      domain.AuditStore
	lockTTL    time.Duration
	logger     *slog.Logger
}

// NewLedgerService creates a LedgerService with all required dependencies.
func NewLedgerService(
	assets *AssetRegistry,
	prices IbtPricer,
	indicators domain.SoapIndicatorStore,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	lockTTL time.Duration,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		assets:     assets,
		prices:     prices,
		indicators: indicators,
		locks:      locks,
		bus:        bus,
		audit:      audit,
		lockTTL:    lockTTL,
		logger:     logger,
	}
}

// Size splits totalAmount into deposit, fee and notional for asset.
func (s *LedgerService) Size(asset common.Address, totalAmount *uint256.Int) (domain.DerivativeSizing, error) {
	params, err := s.assets.Params(asset)
	if err != nil {
		return domain.DerivativeSizing{}, fmt.Errorf("ledger_service: size: %w", err)
	}
	out, err := sizing.SizeDerivative(sizing.RequestFromParams(totalAmount, params), &params.Scale)
	if err != nil {
		return domain.DerivativeSizing{}, fmt.Errorf("ledger_service: size %s: %w", params.Symbol, err)
	}
	return out, nil
}

// OpenSwap sizes a new swap, prices its IBT quantity and adds it to the
// book of its direction.
func (s *LedgerService) OpenSwap(ctx context.Context, req OpenRequest) (OpenResult, error) {
	if !req.Direction.Valid() {
		return OpenResult{}, fmt.Errorf("ledger_service: open: %s: %w", req.Direction, domain.ErrInvalidParameter)
	}
	params, err := s.assets.Params(req.Asset)
	if err != nil {
		return OpenResult{}, fmt.Errorf("ledger_service: open: %w", err)
	}
	sized, err := s.Size(req.Asset, &req.TotalAmount)
	if err != nil {
		return OpenResult{}, err
	}
	price, err := s.prices.IbtPrice(ctx, req.Asset, req.Timestamp)
	if err != nil {
		return OpenResult{}, fmt.Errorf("ledger_service: open: %w", err)
	}
	qty, err := sizing.IbtQuantity(&sized.Notional, price, &params.Scale)
	if err != nil {
		return OpenResult{}, fmt.Errorf("ledger_service: open: %w", err)
	}

	ev := domain.PositionEvent{OpenedAt: req.Timestamp}
	ev.Notional.Set(&sized.Notional)
	ev.FixedRate.Set(&req.FixedRate)
	ev.IbtQuantity.Set(qty)

	next, err := s.mutateBook(ctx, req.Asset, req.Direction, func(ind domain.SoapIndicator) (domain.SoapIndicator, error) {
		return soap.OpenPosition(ind, req.Timestamp, ev)
	})
	if err != nil {
		return OpenResult{}, fmt.Errorf("ledger_service: open %s/%s: %w", params.Symbol, req.Direction, err)
	}

	out := OpenResult{Sizing: sized, Position: ev, Indicator: next}
	out.IbtPrice.Set(price)

	s.publish(ctx, "swap_opened", next)
	s.auditLog(ctx, "swap.opened", map[string]any{
		"asset":        req.Asset.Hex(),
		"direction":    req.Direction.String(),
		"notional":     ev.Notional.Dec(),
		"fixed_rate":   ev.FixedRate.Dec(),
		"ibt_quantity": ev.IbtQuantity.Dec(),
		"deposit":      sized.Deposit.Dec(),
		"opening_fee":  sized.OpeningFee.Dec(),
		"timestamp":    req.Timestamp,
	})
	s.logger.InfoContext(ctx, "swap opened",
		slog.String("symbol", params.Symbol),
		slog.String("direction", req.Direction.String()),
		slog.String("notional", ev.Notional.Dec()),
		slog.String("fixed_rate", ev.FixedRate.Dec()),
	)
	return out, nil
}

// CloseSwap values the position at the close timestamp, withholds income
// tax on a profit and removes the position from its book.
func (s *LedgerService) CloseSwap(ctx context.Context, req CloseRequest) (CloseResult, error) {
	if !req.Direction.Valid() {
		return CloseResult{}, fmt.Errorf("ledger_service: close: %s: %w", req.Direction, domain.ErrInvalidParameter)
	}
	params, err := s.assets.Params(req.Asset)
	if err != nil {
		return CloseResult{}, fmt.Errorf("ledger_service: close: %w", err)
	}
	price, err := s.prices.IbtPrice(ctx, req.Asset, req.Timestamp)
	if err != nil {
		return CloseResult{}, fmt.Errorf("ledger_service: close: %w", err)
	}
	payoff, err := soap.PositionPayoff(req.Position, req.Direction, req.Timestamp, price, &params.Scale, params.SecondsPerYear)
	if err != nil {
		return CloseResult{}, fmt.Errorf("ledger_service: close payoff: %w", err)
	}
	out := CloseResult{Payoff: payoff}
	out.IbtPrice.Set(price)
	if payoff.Sign() > 0 {
		tax, err := settlement.IncomeTax(uint256.MustFromBig(payoff), &params.TaxPct, &params.Scale)
		if err != nil {
			return CloseResult{}, fmt.Errorf("ledger_service: close: %w", err)
		}
		out.IncomeTax.Set(tax)
	}

	next, err := s.mutateBook(ctx, req.Asset, req.Direction, func(ind domain.SoapIndicator) (domain.SoapIndicator, error) {
		return soap.ClosePosition(ind, req.Timestamp, req.Position)
	})
	if err != nil {
		return CloseResult{}, fmt.Errorf("ledger_service: close %s/%s: %w", params.Symbol, req.Direction, err)
	}
	out.Indicator = next

	s.publish(ctx, "swap_closed", next)
	s.auditLog(ctx, "swap.closed", map[string]any{
		"asset":      req.Asset.Hex(),
		"direction":  req.Direction.String(),
		"notional":   req.Position.Notional.Dec(),
		"fixed_rate": req.Position.FixedRate.Dec(),
		"payoff":     payoff.String(),
		"income_tax": out.IncomeTax.Dec(),
		"timestamp":  req.Timestamp,
	})
	s.logger.InfoContext(ctx, "swap closed",
		slog.String("symbol", params.Symbol),
		slog.String("direction", req.Direction.String()),
		slog.String("payoff", payoff.String()),
	)
	return out, nil
}

// mutateBook applies fn to the stored (asset, dir) book under its lock and
// persists the result. A book never written before starts empty.
func (s *LedgerService) mutateBook(
	ctx context.Context,
	asset common.Address,
	dir domain.Direction,
	fn func(domain.SoapIndicator) (domain.SoapIndicator, error),
) (domain.SoapIndicator, error) {
	var next domain.SoapIndicator
	err := withLock(ctx, s.locks, bookLockKey(asset, dir), s.lockTTL, func() error {
		ind, err := s.loadBook(ctx, asset, dir)
		if err != nil {
			return err
		}
		next, err = fn(ind)
		if err != nil {
			return err
		}
		if err := s.indicators.Upsert(ctx, next); err != nil {
			return fmt.Errorf("persist indicator: %w", err)
		}
		return nil
	})
	return next, err
}

func (s *LedgerService) loadBook(ctx context.Context, asset common.Address, dir domain.Direction) (domain.SoapIndicator, error) {
	ind, err := s.indicators.Get(ctx, asset, dir)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.SoapIndicator{Asset: asset, Direction: dir}, nil
	}
	if err != nil {
		return domain.SoapIndicator{}, fmt.Errorf("load indicator: %w", err)
	}
	return ind, nil
}

// PreviewRate returns the average rate the book would carry after opening
// (or, with closing set, removing) notional at fixedRate.
func (s *LedgerService) PreviewRate(ctx context.Context, asset common.Address, dir domain.Direction, notional, fixedRate *uint256.Int, closing bool) (*uint256.Int, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("ledger_service: preview: %s: %w", dir, domain.ErrInvalidParameter)
	}
	if _, err := s.assets.Params(asset); err != nil {
		return nil, fmt.Errorf("ledger_service: preview: %w", err)
	}
	ind, err := s.loadBook(ctx, asset, dir)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: preview: %w", err)
	}
	var rate *uint256.Int
	if closing {
		rate, err = soap.PreviewInterestRateOnClose(ind, notional, fixedRate)
	} else {
		rate, err = soap.PreviewInterestRateOnOpen(ind, notional, fixedRate)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger_service: preview: %w", err)
	}
	return rate, nil
}

// Books returns the stored pay-fixed and receive-fixed indicators of asset.
func (s *LedgerService) Books(ctx context.Context, asset common.Address) (payFixed, receiveFixed domain.SoapIndicator, err error) {
	if _, err := s.assets.Params(asset); err != nil {
		return payFixed, receiveFixed, fmt.Errorf("ledger_service: books: %w", err)
	}
	if payFixed, err = s.loadBook(ctx, asset, domain.PayFixed); err != nil {
		return payFixed, receiveFixed, fmt.Errorf("ledger_service: books: %w", err)
	}
	if receiveFixed, err = s.loadBook(ctx, asset, domain.ReceiveFixed); err != nil {
		return payFixed, receiveFixed, fmt.Errorf("ledger_service: books: %w", err)
	}
	return payFixed, receiveFixed, nil
}

// Soap evaluates both books of asset at asOf.
func (s *LedgerService) Soap(ctx context.Context, asset common.Address, asOf uint64) (soap.Book, error) {
	params, err := s.assets.Params(asset)
	if err != nil {
		return soap.Book{}, fmt.Errorf("ledger_service: soap: %w", err)
	}
	pf, rf, err := s.Books(ctx, asset)
	if err != nil {
		return soap.Book{}, err
	}
	price, err := s.prices.IbtPrice(ctx, asset, asOf)
	if err != nil {
		return soap.Book{}, fmt.Errorf("ledger_service: soap: %w", err)
	}
	book, err := soap.CalculateBook(pf, rf, asOf, price, &params.Scale, params.SecondsPerYear)
	if err != nil {
		return soap.Book{}, fmt.Errorf("ledger_service: soap %s: %w", params.Symbol, err)
	}
	return book, nil
}

func (s *LedgerService) publish(ctx context.Context, event string, ind domain.SoapIndicator) {
	payload, err := json.Marshal(struct {
		Event     string               `json:"event"`
		Indicator domain.SoapIndicator `json:"indicator"`
	}{event, ind})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelSoap, payload); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LedgerService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
