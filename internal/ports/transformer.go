package ports

import "github.com/ghalamif/AegisStream/internal/domain"

// Transformer may rewrite a sample (calibration, renaming) before it is
// recorded. Returning an error drops the sample.
type Transformer interface {
	Transform(*domain.Sample) (*domain.Sample, error)
	Version() uint16
}
