package nn

// SummaryRow describes one layer of a network summary.
type SummaryRow struct {
	Name     string
	Kind     LayerKind
	Input    string
	InShape  []int
	OutShape []int
	Params   int
	Frozen   bool
}

// Summarize lists the layers of cfg in topological order.
func Summarize(cfg *Config) []SummaryRow {
	rows := make([]SummaryRow, 0, len(cfg.Layers))
	for _, l := range cfg.Layers {
		rows = append(rows, SummaryRow{
			Name:     l.Name,
			Kind:     l.Kind,
			Input:    l.Input,
			InShape:  l.InShape,
			OutShape: l.OutShape,
			Params:   l.NumParams(),
			Frozen:   l.Frozen,
		})
	}
	return rows
}
