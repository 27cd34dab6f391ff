package events

import (
	"encoding/json"
	"fmt"
)

type decoder func(json.RawMessage) (Payload, error)

// decoders maps each event type to its payload. Keep in sync with the Type
// constants.
var decoders = map[Type]decoder{
	SaleCreated:          decodeAs[Sale],
	SaleUpdated:          decodeAs[Sale],
	SaleCancelled:        decodeAs[Sale],
	StockUpdated:         decodeAs[Stock],
	StockLow:             decodeAs[Stock],
	StockOut:             decodeAs[Stock],
	ProductUpdated:       decodeAs[Stock],
	CustomerCreated:      decodeAs[Customer],
	CustomerUpdated:      decodeAs[Customer],
	LoyaltyPointsChanged: decodeAs[LoyaltyPoints],
	SystemAlert:          decodeAs[Alert],
	SystemMaintenance:    decodeAs[Alert],
}

func decodeAs[T Payload](data json.RawMessage) (Payload, error) {
	var p T
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %T: %w", p, err)
	}
	return p, nil
}

func decodePayload(t Type, data json.RawMessage) Payload {
	dec, ok := decoders[t]
	if !ok {
		return Unknown{Data: data}
	}
	p, err := dec(data)
	if err != nil {
		return Unknown{Data: data, Err: err}
	}
	return p
}
