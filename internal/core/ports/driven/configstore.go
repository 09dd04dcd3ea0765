package driven

// ConfigStore is the settings backend. Keys are dotted paths such as
// "reader.connect_timeout"; missing or mistyped values read as zero.
type ConfigStore interface {
	GetString(key string) string
	GetInt(key string) int
	GetFloat(key string) float64
	GetStringSlice(key string) []string

	// Set stores a value and persists it immediately.
	Set(key string, value any) error

	// Path names where settings live, for error messages.
	Path() string
}
