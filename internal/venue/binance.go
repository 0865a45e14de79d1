package venue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
)

// BinanceConnector routes orders to Binance spot. Credentials come from the
// vault-backed credential store; the connector itself never sees where they
// were read from.
type BinanceConnector struct {
	client *binance.Client
}

// NewBinanceConnector creates a live venue connector
func NewBinanceConnector(apiKey, secretKey string, testnet bool) *BinanceConnector {
	if testnet {
		binance.UseTestnet = true
	}
	return &BinanceConnector{client: binance.NewClient(apiKey, secretKey)}
}

// PlaceOrder submits a market order, passing the decision id as the client
// order id so a retried submission lands on the same venue order.
func (c *BinanceConnector) PlaceOrder(ctx context.Context, req OrderRequest) (*Fill, error) {
	side := binance.SideTypeBuy
	if req.Side == SideSell {
		side = binance.SideTypeSell
	}

	order, err := c.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(req.Quantity, 'f', -1, 64)).
		NewClientOrderID(req.DecisionID).
		Do(ctx)
	if err != nil {
		return nil, &Error{Op: "place_order", Symbol: req.Symbol, Err: err}
	}

	filledQty := parseFloat(order.ExecutedQuantity)
	avgPrice := averageFillPrice(order)

	return &Fill{
		OrderID:    strconv.FormatInt(order.OrderID, 10),
		DecisionID: req.DecisionID,
		FilledQty:  filledQty,
		AvgPrice:   avgPrice,
		ExecutedAt: time.UnixMilli(order.TransactTime).UTC(),
	}, nil
}

// GetTicker returns the latest price for a symbol
func (c *BinanceConnector) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	prices, err := c.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, &Error{Op: "get_ticker", Symbol: symbol, Err: err}
	}
	if len(prices) == 0 {
		return nil, &Error{Op: "get_ticker", Symbol: symbol, Err: fmt.Errorf("no price data")}
	}
	return &Ticker{Symbol: symbol, Price: parseFloat(prices[0].Price), At: time.Now().UTC()}, nil
}

func averageFillPrice(order *binance.CreateOrderResponse) float64 {
	var qty, quote float64
	for _, f := range order.Fills {
		q := parseFloat(f.Quantity)
		qty += q
		quote += q * parseFloat(f.Price)
	}
	if qty == 0 {
		return parseFloat(order.Price)
	}
	return quote / qty
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
