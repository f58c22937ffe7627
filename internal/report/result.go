// Package report turns the analysis script's output into a typed Result and
// renders the Markdown summary shown to users.
package report

// Result is the parsed outcome of one analysis run.
type Result struct {
	BestColumn string     `json:"best_column"`
	Reward     Reward     `json:"reward"`
	Relations  []Relation `json:"relations"`
	// Format records which output contract produced the result: "json" or "text".
	Format string `json:"format"`
}

// Metric is one named reward score.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Reward keeps metrics in the order the script printed them.
type Reward []Metric

// Get returns the value for name and whether it was present.
func (r Reward) Get(name string) (float64, bool) {
	for _, m := range r {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

// Names lists metric names in order.
func (r Reward) Names() []string {
	out := make([]string, len(r))
	for i, m := range r {
		out[i] = m.Name
	}
	return out
}

// Relation is a fitted association between two dataset columns.
type Relation struct {
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Degree      int     `json:"degree"`
	RSquared    float64 `json:"r_squared"`
}

// Label renders the relation as "src→dst".
func (r Relation) Label() string {
	return r.Source + "→" + r.Destination
}

const (
	FormatJSON = "json"
	FormatText = "text"
)
