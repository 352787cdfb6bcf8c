package domain

import "github.com/shopspring/decimal"

func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// BinanceSymbolMap maps internal canonical symbols to venue-specific symbols.
var BinanceSymbolMap = map[string]string{
	"BTC/USDT": "BTCUSDT",
	"ETH/USDT": "ETHUSDT",
	"SOL/USDT": "SOLUSDT",
}

func MapSymbol(internal string, mapping map[string]string) string {
	if v, ok := mapping[internal]; ok {
		return v
	}
	return internal
}
