package meter

// Epoch is the per-epoch summary kept in a run's history.
type Epoch struct {
	Epoch       int     `json:"epoch"`
	LR          float64 `json:"lr"`
	TrainAcc    float64 `json:"train_acc"`
	TrainLoss   float64 `json:"train_loss"`
	ValidAcc    float64 `json:"valid_acc"`
	ValidLoss   float64 `json:"valid_loss"`
	ElapsedSecs float64 `json:"elapsed_secs"`
}

// History is the ordered list of epoch summaries for a run.
type History struct {
	Epochs []Epoch `json:"epochs"`
}

// Append adds e, replacing any earlier record for the same epoch so a
// resumed run does not duplicate entries.
func (h *History) Append(e Epoch) {
	for i := range h.Epochs {
		if h.Epochs[i].Epoch == e.Epoch {
			h.Epochs[i] = e
			return
		}
	}
	h.Epochs = append(h.Epochs, e)
}

// Acc returns the training accuracy series.
func (h *History) Acc() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.TrainAcc
	}
	return out
}

// Loss returns the training loss series.
func (h *History) Loss() []float64 {
	out := make([]float64, len(h.Epochs))
	for i, e := range h.Epochs {
		out[i] = e.TrainLoss
	}
	return out
}

// Best returns the record with the highest validation accuracy.
func (h *History) Best() (Epoch, bool) {
	if len(h.Epochs) == 0 {
		return Epoch{}, false
	}
	best := h.Epochs[0]
	for _, e := range h.Epochs[1:] {
		if e.ValidAcc > best.ValidAcc {
			best = e
		}
	}
	return best, true
}
