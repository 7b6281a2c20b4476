package models

// OHLCV is a single bar of market data. Date is epoch milliseconds.
type OHLCV struct {
	Date   int64   `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Snapshot is one point-in-time market record for a symbol. It is
// immutable once constructed; pipeline stages read it, never mutate it.
type Snapshot struct {
	Symbol         string   `json:"symbol"`
	Timestamp      int64    `json:"timestamp"` // epoch ms
	OHLCV          *OHLCV   `json:"ohlcv,omitempty"`
	PreviousClose  *float64 `json:"previous_close,omitempty"`
	PreviousVolume *float64 `json:"previous_volume,omitempty"`
}

// Price returns the snapshot's close price, if any.
func (s *Snapshot) Price() (float64, bool) {
	if s == nil || s.OHLCV == nil {
		return 0, false
	}
	return s.OHLCV.Close, true
}

// Volume returns the snapshot's volume, if any.
func (s *Snapshot) Volume() (float64, bool) {
	if s == nil || s.OHLCV == nil {
		return 0, false
	}
	return s.OHLCV.Volume, true
}
