package market

import (
	"sync"

	"arbscan/internal/models"
)

// ============================================================
// MarketStateStore - таблица последних котировок
// ============================================================

// ОПТИМИЗАЦИЯ: хранилище шардировано по FNV-1a хешу пары,
// чтобы HTTP-читатели не конкурировали с диспетчером за один мьютекс.
// Пишет только диспетчер; читатели берут консистентную копию по паре.

const numShards = 16

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// fnvHash - инлайновый FNV-1a без аллокаций на горячем пути
func fnvHash(s string) uint32 {
	h := uint32(fnvOffset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

type storeShard struct {
	mu     sync.RWMutex
	quotes map[string]map[string]models.ExchangeQuote // pair -> exchange -> quote
}

// Store - последняя котировка по каждому ключу (pair, exchange).
// Котировки создаются при первом тике ключа и перезаписываются
// каждым следующим; не удаляются в течение жизни процесса.
type Store struct {
	shards [numShards]*storeShard
}

// NewStore создаёт пустое хранилище
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &storeShard{
			quotes: make(map[string]map[string]models.ExchangeQuote),
		}
	}
	return s
}

func (s *Store) shardFor(pair string) *storeShard {
	return s.shards[fnvHash(pair)%numShards]
}

// UpdateAndSnapshot атомарно фиксирует тик и возвращает копию всех
// котировок пары, включая только что записанную. Движки работают
// с этой копией и видят консистентное состояние пары.
func (s *Store) UpdateAndSnapshot(u models.PriceUpdate) map[string]models.ExchangeQuote {
	sh := s.shardFor(u.Pair)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	byExchange, ok := sh.quotes[u.Pair]
	if !ok {
		byExchange = make(map[string]models.ExchangeQuote, 4)
		sh.quotes[u.Pair] = byExchange
	}
	byExchange[u.Exchange] = models.QuoteFromUpdate(u)

	snap := make(map[string]models.ExchangeQuote, len(byExchange))
	for ex, q := range byExchange {
		snap[ex] = q
	}
	return snap
}

// QuotesFor возвращает копию котировок пары по всем биржам.
// Неизвестная пара даёт пустую map.
func (s *Store) QuotesFor(pair string) map[string]models.ExchangeQuote {
	sh := s.shardFor(pair)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	byExchange := sh.quotes[pair]
	snap := make(map[string]models.ExchangeQuote, len(byExchange))
	for ex, q := range byExchange {
		snap[ex] = q
	}
	return snap
}

// AllQuotes возвращает копию всей таблицы (для /api/state)
func (s *Store) AllQuotes() map[string]map[string]models.ExchangeQuote {
	out := make(map[string]map[string]models.ExchangeQuote)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for pair, byExchange := range sh.quotes {
			cp := make(map[string]models.ExchangeQuote, len(byExchange))
			for ex, q := range byExchange {
				cp[ex] = q
			}
			out[pair] = cp
		}
		sh.mu.RUnlock()
	}
	return out
}

// Pairs возвращает список пар, по которым есть котировки
func (s *Store) Pairs() []string {
	var pairs []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for pair := range sh.quotes {
			pairs = append(pairs, pair)
		}
		sh.mu.RUnlock()
	}
	return pairs
}
