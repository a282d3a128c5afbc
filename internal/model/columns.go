package model

// Columns names the spreadsheet headers a kind reads from. Contract and
// forecast exports use different headers for the same concepts.
type Columns struct {
	Organizer    string `yaml:"organizer" mapstructure:"organizer"`
	Link         string `yaml:"link" mapstructure:"link"`         // column whose hyperlink points at the contact page
	LotLink      string `yaml:"lot_link" mapstructure:"lot_link"` // column whose hyperlink points at the lot page
	Region       string `yaml:"region" mapstructure:"region"`
	City         string `yaml:"city" mapstructure:"city"`
	Address      string `yaml:"address" mapstructure:"address"`
	Institution  string `yaml:"institution" mapstructure:"institution"`
	Title        string `yaml:"title" mapstructure:"title"`
	Amount       string `yaml:"amount" mapstructure:"amount"`
	Date         string `yaml:"date" mapstructure:"date"`
	Counterparty string `yaml:"counterparty" mapstructure:"counterparty"`
}

// DefaultColumns returns the dashboard export headers for kind.
func DefaultColumns(k Kind) Columns {
	switch k {
	case KindForecast:
		return Columns{
			Organizer:   "Organizer",
			Link:        "Plan item",
			Region:      "Region",
			City:        "City",
			Address:     "Address",
			Institution: "Institution",
			Title:       "Subject",
			Amount:      "Expected value",
			Date:        "Planned date",
		}
	default:
		return Columns{
			Organizer:    "Organizer",
			Link:         "Organizer",
			LotLink:      "Lot title",
			Region:       "Region",
			City:         "City",
			Address:      "Address",
			Institution:  "Institution",
			Title:        "Lot title",
			Amount:       "Amount",
			Date:         "Publication date",
			Counterparty: "Supplier",
		}
	}
}

// Merge returns c with every blank header filled from defaults.
func (c Columns) Merge(defaults Columns) Columns {
	fill := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return Columns{
		Organizer:    fill(c.Organizer, defaults.Organizer),
		Link:         fill(c.Link, defaults.Link),
		LotLink:      fill(c.LotLink, defaults.LotLink),
		Region:       fill(c.Region, defaults.Region),
		City:         fill(c.City, defaults.City),
		Address:      fill(c.Address, defaults.Address),
		Institution:  fill(c.Institution, defaults.Institution),
		Title:        fill(c.Title, defaults.Title),
		Amount:       fill(c.Amount, defaults.Amount),
		Date:         fill(c.Date, defaults.Date),
		Counterparty: fill(c.Counterparty, defaults.Counterparty),
	}
}
