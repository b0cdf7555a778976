package domain

// TrackingActivity is one entry in a shipment's chronological activity feed.
type TrackingActivity struct {
	Date     string `json:"date"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

// TrackingSnapshot is the carrier's view of a shipment at poll time.
type TrackingSnapshot struct {
	ShipmentID    string             `json:"shipment_id"`
	CurrentStatus string             `json:"current_status"`
	StatusDate    string             `json:"shipment_status_date"`
	Activities    []TrackingActivity `json:"shipment_track_activities"`
}
