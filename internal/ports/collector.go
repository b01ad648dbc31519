package ports

import "github.com/ghalamif/AegisStream/internal/domain"

// Collector is a producer of samples (device decoder, OPC UA subscription,
// simulator). Start must not block; samples are delivered on out until Stop.
type Collector interface {
	Start(out chan<- *domain.Sample) error
	Stop() error
}
