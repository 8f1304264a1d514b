package agents

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/talgya/gerrysort/internal/entropy"
)

// Stay is the option index Choose returns for remaining in place.
const Stay = -1

// Probabilities returns the Boltzmann distribution over staying (index 0)
// and each option (index i+1): p ∝ exp(β·(Uᵢ − U_current)). The exponent is
// shifted by its maximum so large β never overflows.
func Probabilities(beta, current float64, options []float64) []float64 {
	exps := make([]float64, len(options)+1)
	maxE := 0.0 // staying has exponent 0
	for i, u := range options {
		e := beta * (u - current)
		if math.IsNaN(e) {
			e = 0
		}
		exps[i+1] = e
		if e > maxE {
			maxE = e
		}
	}
	sum := 0.0
	for i, e := range exps {
		exps[i] = math.Exp(e - maxE)
		sum += exps[i]
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

// Choose draws from the Boltzmann distribution and returns the chosen
// option index, or Stay. With no options it always stays.
func Choose(beta, current float64, options []float64, rng *rand.Rand) int {
	if len(options) == 0 {
		return Stay
	}
	probs := Probabilities(beta, current, options)
	return int(distuv.NewCategorical(probs, entropy.Adapt(rng)).Rand()) - 1
}
