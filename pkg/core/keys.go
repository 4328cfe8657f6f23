package core

// Structured logging keys
const (
	KeyBlock     = "block"
	KeyBlockType = "block_type"
	KeyInput     = "input"
	KeyOutput    = "output"
	KeyCount     = "count"
	KeyState     = "state"
	KeyAddress   = "address"
	KeyService   = "service"
	KeyError     = "error"
)
