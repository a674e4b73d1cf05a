package plugin

// Type is the kind of plugin a factory produces.
type Type string

const (
	// Metrics plugins are metric reporters.
	Metrics Type = "metrics"
	// Transport plugins provide network transport implementations.
	Transport Type = "transport"
)

// Factory builds plugin instances of one implementation.
type Factory interface {
	Type() Type
	// Name is the implementation name used as the config key.
	Name() string
	// ConfigType returns a pointer to an empty config struct that the manager
	// fills with mapstructure.
	ConfigType() any
	Setup(any) (Plugin, error)
	Destroy(Plugin)
}

type Plugin interface {
	FactoryName() string
}
