package tui

import (
	"fmt"
	"slices"
)

// View types with a TUI.
const (
	ViewWatchOrders = "watch_orders"
	ViewStatus      = "status"
)

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns the view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewWatchOrders, ViewStatus}
}

// Check returns an error naming the command when --tui is not supported.
func Check(viewType string) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return nil
}
