package binance

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"volna/internal/market"
)

// AvailableBalance 返回指定计价资产的可用余额。
func (g *Gateway) AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := g.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b == nil || b.Asset != asset {
			continue
		}
		v, err := decimal.NewFromString(b.AvailableBalance)
		if err != nil {
			return decimal.Zero, fmt.Errorf("balance %q for %s: %w", b.AvailableBalance, asset, err)
		}
		return v, nil
	}
	return decimal.Zero, fmt.Errorf("asset %s not found in account", asset)
}

// PlaceMarketOrder 市价开仓或平仓。side 是仓位方向，closing 为真时反向成交。
func (g *Gateway) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity decimal.Decimal, closing bool) (string, error) {
	sym := toExchangeSymbol(symbol)
	if sym == "" {
		return "", fmt.Errorf("symbol is required")
	}
	if quantity.Sign() <= 0 {
		return "", fmt.Errorf("quantity must be positive")
	}
	orderSide, err := orderSideFor(side, closing)
	if err != nil {
		return "", err
	}
	svc := g.client.NewCreateOrderService().
		Symbol(sym).
		Side(orderSide).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String())
	if closing {
		svc = svc.ReduceOnly(true)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// PlaceStopOrder 挂保护性止损单：触发后以市价全平该仓位。
func (g *Gateway) PlaceStopOrder(ctx context.Context, symbol, side string, stopPrice decimal.Decimal) (string, error) {
	sym := toExchangeSymbol(symbol)
	if sym == "" {
		return "", fmt.Errorf("symbol is required")
	}
	if stopPrice.Sign() <= 0 {
		return "", fmt.Errorf("stop price must be positive")
	}
	orderSide, err := orderSideFor(side, true)
	if err != nil {
		return "", err
	}
	resp, err := g.client.NewCreateOrderService().
		Symbol(sym).
		Side(orderSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(stopPrice.String()).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// CancelOrder 撤销挂单（如移动止损需要重挂时）。
func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	sym := toExchangeSymbol(symbol)
	if sym == "" {
		return fmt.Errorf("symbol is required")
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("order id %q is not numeric: %w", orderID, err)
	}
	_, err = g.client.NewCancelOrderService().Symbol(sym).OrderID(id).Do(ctx)
	return err
}

func orderSideFor(side string, closing bool) (futures.SideType, error) {
	if closing {
		side = market.OppositeSide(side)
	}
	switch side {
	case market.SideLong:
		return futures.SideTypeBuy, nil
	case market.SideShort:
		return futures.SideTypeSell, nil
	default:
		return "", fmt.Errorf("unknown side: %s", side)
	}
}
