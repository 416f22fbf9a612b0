package world

// TexasScenario is the default five-city Texas network.
func TexasScenario() *Scenario {
	return &Scenario{
		Cities: []ScenarioCity{
			{Name: "Corpus Christi", Lat: 27.8006, Lon: -97.3964, WarehouseCapacity: 2000, CurrentInventory: 800, DemandRate: 0.8},
			{Name: "Houston", Lat: 29.7604, Lon: -95.3698, WarehouseCapacity: 5000, CurrentInventory: 2000, DemandRate: 1.5},
			{Name: "Austin", Lat: 30.2672, Lon: -97.7431, WarehouseCapacity: 3000, CurrentInventory: 1200, DemandRate: 1.2},
			{Name: "San Antonio", Lat: 29.4241, Lon: -98.4936, WarehouseCapacity: 3500, CurrentInventory: 1500, DemandRate: 1.1},
			{Name: "Dallas", Lat: 32.7767, Lon: -96.7970, WarehouseCapacity: 4500, CurrentInventory: 1800, DemandRate: 1.4},
		},
		Routes: []ScenarioRoute{
			{Source: "Corpus Christi", Target: "San Antonio", BaseDistance: 143}, // I-37
			{Source: "San Antonio", Target: "Houston", BaseDistance: 197},        // I-10
			{Source: "San Antonio", Target: "Austin", BaseDistance: 80},          // I-35
			{Source: "Austin", Target: "Dallas", BaseDistance: 195},              // I-35
			{Source: "Austin", Target: "Houston", BaseDistance: 165},             // TX-71
			{Source: "Houston", Target: "Dallas", BaseDistance: 239},             // I-45
			{Source: "Corpus Christi", Target: "Houston", BaseDistance: 210},     // coastal
		},
	}
}

// NewTexas returns a fresh default Texas network.
func NewTexas() *World {
	w, err := TexasScenario().Build()
	if err != nil {
		panic("world: default network: " + err.Error())
	}
	return w
}
