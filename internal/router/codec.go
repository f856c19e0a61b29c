package router

import (
	"encoding/json"
	"fmt"

	"github.com/lonestarx1/debatearena/internal/wire"
)

func marshalResponse(resp wire.DebateResponse) ([]byte, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("router: marshal response: %w", err)
	}
	return b, nil
}

func decodeResponsePayload(data []byte) (wire.DebateResponse, error) {
	var resp wire.DebateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return wire.DebateResponse{}, fmt.Errorf("router: decode response payload: %w", err)
	}
	return resp, nil
}
