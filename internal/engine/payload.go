package engine

import (
	"errors"
	"time"

	"github.com/aristath/quorum/internal/domain"
)

var (
	errMissingSymbol = errors.New("payload missing symbol")
	errMissingAction = errors.New("payload missing action")
)

// opinionFromPayload reconstructs an agent opinion from a decision message.
// The sender is the authority on agent identity; an agent_id field in the
// payload is ignored.
func opinionFromPayload(sender string, payload map[string]interface{}) (domain.Opinion, error) {
	symbol := payloadString(payload, "symbol")
	if symbol == "" {
		return domain.Opinion{}, errMissingSymbol
	}
	action, ok := payloadAction(payload)
	if !ok {
		return domain.Opinion{}, errMissingAction
	}

	confidence, _ := payloadFloat(payload, "confidence")
	expectedReturn, _ := payloadFloat(payload, "expected_return")
	risk, _ := payloadFloat(payload, "risk")
	positionSize, _ := payloadFloat(payload, "position_size")

	return domain.Opinion{
		AgentID:        sender,
		Symbol:         symbol,
		Action:         action,
		Confidence:     clamp01(confidence),
		Rationale:      payloadString(payload, "rationale"),
		ExpectedReturn: expectedReturn,
		Risk:           clamp01(risk),
		PositionSize:   positionSize,
		CreatedAt:      time.Now(),
	}, nil
}

// estimateFromPayload reconstructs an instrument estimate from a market-data
// message.
func estimateFromPayload(payload map[string]interface{}) (domain.InstrumentEstimate, error) {
	symbol := payloadString(payload, "symbol")
	if symbol == "" {
		return domain.InstrumentEstimate{}, errMissingSymbol
	}

	expectedReturn, _ := payloadFloat(payload, "expected_return")
	volatility, _ := payloadFloat(payload, "volatility")

	est := domain.InstrumentEstimate{
		Symbol:         symbol,
		ExpectedReturn: expectedReturn,
		Volatility:     volatility,
	}

	if raw, ok := payload["returns"]; ok {
		switch v := raw.(type) {
		case []float64:
			est.Returns = append([]float64(nil), v...)
		case []interface{}:
			for _, item := range v {
				if f, ok := asFloat(item); ok {
					est.Returns = append(est.Returns, f)
				}
			}
		}
	}

	return est, nil
}

// payloadAction accepts the action as a signed number (-1/0/1) or as one of
// the names "sell", "hold", "buy".
func payloadAction(payload map[string]interface{}) (domain.Action, bool) {
	raw, ok := payload["action"]
	if !ok {
		return domain.ActionHold, false
	}
	if f, ok := asFloat(raw); ok {
		switch {
		case f > 0:
			return domain.ActionBuy, true
		case f < 0:
			return domain.ActionSell, true
		default:
			return domain.ActionHold, true
		}
	}
	if s, ok := raw.(string); ok {
		switch s {
		case "buy":
			return domain.ActionBuy, true
		case "sell":
			return domain.ActionSell, true
		case "hold":
			return domain.ActionHold, true
		}
	}
	return domain.ActionHold, false
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadFloat(payload map[string]interface{}, key string) (float64, bool) {
	raw, ok := payload[key]
	if !ok {
		return 0, false
	}
	return asFloat(raw)
}

func asFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
