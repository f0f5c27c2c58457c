package extraction

// Score rates extraction quality as the fraction of the four header
// fields that matched: one of {0, 0.25, 0.5, 0.75, 1.0}.
func Score(f Fields) float64 {
	matched := 0
	if f.InvoiceNumber != "" {
		matched++
	}
	if f.RONumber != "" {
		matched++
	}
	if !f.TotalAmount.IsZero() {
		matched++
	}
	if f.Date != "" {
		matched++
	}
	return float64(matched) / 4
}
