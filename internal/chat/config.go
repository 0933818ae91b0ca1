package chat

import "time"

const DefaultPort = 1557

// Config tunes the server. The zero value of every optional field disables it.
type Config struct {
	Addr string

	// WriteTimeout bounds each line written to a client.
	WriteTimeout time.Duration
	// IdleTimeout disconnects clients that send nothing for this long.
	IdleTimeout time.Duration

	// MessageRate is the sustained number of chat lines per second one
	// session may relay; MessageBurst is the bucket size.
	MessageRate  float64
	MessageBurst int
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":1557",
		WriteTimeout: 10 * time.Second,
	}
}
