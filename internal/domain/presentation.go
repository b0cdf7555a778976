package domain

// Presentation is the icon/color pair a client should use when rendering an
// order status. Kept as a pure mapping so presentation concerns never leak
// into the state machine.
type Presentation struct {
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

func StatusPresentation(status OrderStatus) Presentation {
	switch status {
	case OrderStatusPending:
		return Presentation{Icon: "hourglass-empty", Color: "#F59E0B"}
	case OrderStatusProcessing:
		return Presentation{Icon: "autorenew", Color: "#3B82F6"}
	case OrderStatusShipped:
		return Presentation{Icon: "local-shipping", Color: "#8B5CF6"}
	case OrderStatusDelivered:
		return Presentation{Icon: "check-circle", Color: "#10B981"}
	case OrderStatusCancelled:
		return Presentation{Icon: "cancel", Color: "#EF4444"}
	case OrderStatusReturned:
		return Presentation{Icon: "keyboard-return", Color: "#6B7280"}
	case OrderStatusFailed:
		return Presentation{Icon: "error-outline", Color: "#EF4444"}
	default:
		return Presentation{Icon: "help-outline", Color: "#6B7280"}
	}
}
