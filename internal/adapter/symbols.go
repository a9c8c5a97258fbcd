package adapter

import (
	jsoniter "github.com/json-iterator/go"
)

// Быстрый разбор фреймов: на горячем пути адаптеров приходят тысячи
// сообщений в секунду
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================
// Таблицы символов бирж
// ============================================================

// Каждая биржа именует пары по-своему. Таблицы переводят канонический
// вид BASE/QUOTE в биржевой и обратно.

var binanceSymbols = map[string]string{
	"BTC/USDT": "btcusdt",
	"ETH/USDT": "ethusdt",
	"SOL/USDT": "solusdt",
	"XRP/USDT": "xrpusdt",
}

var bybitSymbols = map[string]string{
	"BTC/USDT": "BTCUSDT",
	"ETH/USDT": "ETHUSDT",
	"SOL/USDT": "SOLUSDT",
	"XRP/USDT": "XRPUSDT",
}

var okxSymbols = map[string]string{
	"BTC/USDT": "BTC-USDT",
	"ETH/USDT": "ETH-USDT",
	"SOL/USDT": "SOL-USDT",
	"XRP/USDT": "XRP-USDT",
}

// kraken использует XBT вместо BTC
var krakenSymbols = map[string]string{
	"BTC/USDT": "XBT/USDT",
	"ETH/USDT": "ETH/USDT",
	"SOL/USDT": "SOL/USDT",
	"XRP/USDT": "XRP/USDT",
}

var coinbaseSymbols = map[string]string{
	"BTC/USDT": "BTC-USDT",
	"ETH/USDT": "ETH-USDT",
	"SOL/USDT": "SOL-USDT",
	"XRP/USDT": "XRP-USDT",
}

// invert строит обратную таблицу биржевой символ -> канонический
func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for canonical, venue := range m {
		out[venue] = canonical
	}
	return out
}

// venueSymbols выбирает подмножество таблицы под запрошенные пары
func venueSymbols(table map[string]string, pairs []string) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if sym, ok := table[p]; ok {
			out = append(out, sym)
		}
	}
	return out
}
