package ports

import "time"

// BufferPolicy bounds a sink buffer and controls when it flushes.
type BufferPolicy struct {
	MaxBytes      int           `yaml:"max_bytes"`
	MaxLines      int           `yaml:"max_lines"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	FlushTimeout  time.Duration `yaml:"flush_timeout"`

	// Async moves backend writes off the producer path onto a single worker.
	// AsyncQueue bounds the number of batches waiting for that worker.
	Async      bool `yaml:"async"`
	AsyncQueue int  `yaml:"async_queue"`
}

// BroadcastPolicy controls subscriber fan-out.
type BroadcastPolicy struct {
	Interval    time.Duration `yaml:"interval"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	QueueLen    int           `yaml:"queue_len"`
}
