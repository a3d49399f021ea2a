package types

// ListenerInfo holds the address a service is bound to.
type ListenerInfo struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// DispatchStats is a point-in-time snapshot of the dispatch service.
type DispatchStats struct {
	DefaultAdapter string   `json:"default_adapter"`
	ActiveAdapters []string `json:"active_adapters"`
	AdapterCount   int      `json:"adapter_count"`

	InFlight   int64 `json:"in_flight"`
	Dispatched int64 `json:"dispatched"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Faults     int64 `json:"faults"`
	Fallbacks  int64 `json:"fallbacks"`
	Retries    int64 `json:"retries"`
}
