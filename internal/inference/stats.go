package inference

import (
	"fmt"
	"io"
	"time"
)

// Stats describes the most recent response.
type Stats struct {
	PromptTokens int
	OutputTokens int
	Prefill      time.Duration
	Decode       time.Duration
}

func (s Stats) Total() time.Duration { return s.Prefill + s.Decode }

func rate(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

func (s Stats) PrefillTPS() float64 { return rate(s.PromptTokens, s.Prefill) }
func (s Stats) DecodeTPS() float64  { return rate(s.OutputTokens, s.Decode) }
func (s Stats) TotalTPS() float64   { return rate(s.PromptTokens+s.OutputTokens, s.Total()) }

// ChatTPS is the user-visible generation rate including prefill latency.
func (s Stats) ChatTPS() float64 { return rate(s.OutputTokens, s.Total()) }

// Report writes the speed summary printed after an interactive response.
func (s Stats) Report(w io.Writer) error {
	_, err := fmt.Fprintf(w, `
#################################
 total tokens num  = %d
prompt tokens num  = %d
output tokens num  = %d
  total time = %.2f s
prefill time = %.2f s
 decode time = %.2f s
  total speed = %.2f tok/s
prefill speed = %.2f tok/s
 decode speed = %.2f tok/s
   chat speed = %.2f tok/s
##################################
`,
		s.PromptTokens+s.OutputTokens, s.PromptTokens, s.OutputTokens,
		s.Total().Seconds(), s.Prefill.Seconds(), s.Decode.Seconds(),
		s.TotalTPS(), s.PrefillTPS(), s.DecodeTPS(), s.ChatTPS())
	return err
}
