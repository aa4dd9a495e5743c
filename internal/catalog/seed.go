package catalog

// Seed is a catalog record together with the text its embedding is computed
// from.
type Seed struct {
	Text   string
	Record ServiceRecord
}

// DefaultSeed returns the built-in city services.
func DefaultSeed() []Seed {
	return []Seed{
		{
			Text: "broken streetlight, pothole, road damage",
			Record: ServiceRecord{
				ID:                 1,
				Department:         "Public Works",
				ServiceCode:        "PW_001",
				SLAHours:           72,
				SupportedLanguages: []string{"en", "ar", "hi", "ur"},
			},
		},
		{
			Text: "garbage pickup missed, overflowing trash bin",
			Record: ServiceRecord{
				ID:                 2,
				Department:         "Sanitation",
				ServiceCode:        "SAN_002",
				SLAHours:           48,
				SupportedLanguages: []string{"en", "es"},
			},
		},
		{
			Text: "water leak, broken pipe, low water pressure",
			Record: ServiceRecord{
				ID:                 3,
				Department:         "Water Services",
				ServiceCode:        "WAT_003",
				SLAHours:           24,
				SupportedLanguages: []string{"en"},
			},
		},
	}
}
