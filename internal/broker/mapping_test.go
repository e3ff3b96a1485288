package broker

import (
	"testing"

	"tradegate/internal/model"
)

func TestValidateKindMap(t *testing.T) {
	if err := ValidateKindMap(DefaultKindCodes()); err != nil {
		t.Fatalf("default kind map must validate: %v", err)
	}

	incomplete := KindMap{
		model.KindMarket: "MKT",
		model.KindLimit:  "LMT",
		model.KindStop:   "STP",
	}
	if err := ValidateKindMap(incomplete); err == nil {
		t.Error("expected error for missing STOP_LIMIT entry")
	}

	empty := DefaultKindCodes()
	empty[model.KindMarket] = ""
	if err := ValidateKindMap(empty); err == nil {
		t.Error("expected error for empty venue code")
	}
}

func TestValidateSideMap(t *testing.T) {
	if err := ValidateSideMap(DefaultSideCodes()); err != nil {
		t.Fatalf("default side map must validate: %v", err)
	}
	if err := ValidateSideMap(SideMap{model.SideBuy: "B"}); err == nil {
		t.Error("expected error for missing SELL entry")
	}
}

func TestNewBridgeRejectsBadMapping(t *testing.T) {
	_, err := NewBridge(BridgeConfig{
		BaseURL:   "http://bridge",
		StreamURL: "ws://bridge/stream",
		KindCodes: KindMap{model.KindMarket: "MKT"},
	})
	if err == nil {
		t.Fatal("expected mapping validation error")
	}
}
