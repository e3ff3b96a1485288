package broker

import (
	"fmt"

	"tradegate/internal/model"
)

// KindMap translates gateway order kinds to a venue's order-type codes.
// The table must be total over model.Kinds(); adapters validate it at
// construction so a missing entry is a startup failure, not a runtime
// fallback.
type KindMap map[model.OrderKind]string

// SideMap translates gateway sides to a venue's side codes.
type SideMap map[model.Side]string

// ValidateKindMap checks that every gateway order kind has a venue code.
func ValidateKindMap(m KindMap) error {
	for _, k := range model.Kinds() {
		if v, ok := m[k]; !ok || v == "" {
			return fmt.Errorf("order kind map missing entry for %s", k)
		}
	}
	return nil
}

// ValidateSideMap checks that both sides have a venue code.
func ValidateSideMap(m SideMap) error {
	for _, s := range []model.Side{model.SideBuy, model.SideSell} {
		if v, ok := m[s]; !ok || v == "" {
			return fmt.Errorf("side map missing entry for %s", s)
		}
	}
	return nil
}
