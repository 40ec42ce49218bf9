package model

// InstrumentKind is the closed set of tradeable instrument categories.
type InstrumentKind string

const (
	KindEquity InstrumentKind = "equity"
	KindIndex  InstrumentKind = "index"
	KindFuture InstrumentKind = "future"
	KindOption InstrumentKind = "option"
)

// OptionType distinguishes call/put for option instruments.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// Instrument is an immutable tradeable identifier.
type Instrument struct {
	Token    string         `json:"token"`
	Symbol   string         `json:"symbol"`
	Exchange string         `json:"exchange"`
	Kind     InstrumentKind `json:"kind"`

	// Set only for future/option; both reference an underlying symbol.
	Underlying string     `json:"underlying,omitempty"`
	Expiry     string     `json:"expiry,omitempty"` // YYYY-MM-DD
	Strike     float64    `json:"strike,omitempty"`
	OptionType OptionType `json:"option_type,omitempty"`
}

// Key returns a unique key for this instrument: "exchange:symbol".
func (i Instrument) Key() string {
	return i.Exchange + ":" + i.Symbol
}

// IsDerivative reports whether the instrument carries open interest.
func (i Instrument) IsDerivative() bool {
	return i.Kind == KindFuture || i.Kind == KindOption
}
