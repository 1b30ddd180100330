package isim

// Building, Floor and Room are the three levels of the dormitory picker.
// Codes come from the upstream picker data; names are display strings.
type Building struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Floor struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Room struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// RoomBinding is the confirmed dormitory binding for a principal.
type RoomBinding struct {
	Building    Building `json:"building"`
	Floor       Floor    `json:"floor"`
	Room        Room     `json:"room"`
	RoomID      string   `json:"roomId"`
	DisplayText string   `json:"displayText"`
}

// Balance is the two-bucket electricity balance: purchased units and the
// subsidized allowance, both in kWh.
type Balance struct {
	RemainingPurchased float64 `json:"remainingPurchased"`
	RemainingSubsidy   float64 `json:"remainingSubsidy"`
}

// UsageRecord is one metered consumption entry.
type UsageRecord struct {
	RecordTime  string  `json:"recordTime"`
	UsageAmount float64 `json:"usageAmount"`
	MeterName   string  `json:"meterName"`
}

// Electricity is the billing report for a bound room.
type Electricity struct {
	Balance      Balance       `json:"balance"`
	UsageRecords []UsageRecord `json:"usageRecords"`
}
