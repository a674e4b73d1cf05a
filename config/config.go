// Package config loads the client configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"

	"github.com/linchenxuan/netclient/log"
	"github.com/linchenxuan/netclient/network/handshake"
	"github.com/linchenxuan/netclient/network/netlib"
	"github.com/linchenxuan/netclient/storage/history"
)

// Section is implemented by every typed configuration section.
type Section interface {
	GetName() string
	Validate() error
}

// ClientCfg is the whole client configuration.
type ClientCfg struct {
	Log       *log.LogCfg       `mapstructure:"log"`
	NetLib    *netlib.Config    `mapstructure:"netlib"`
	Handshake *handshake.Config `mapstructure:"handshake"`
	History   *history.Config   `mapstructure:"history"`

	// Plugin is passed unchanged to plugin.Manager.SetupPlugins:
	// type -> implementation name -> settings.
	Plugin map[string]any `mapstructure:"plugin"`
}

// Default returns a configuration that logs to the console, keeps no history
// and uses a kcp transport tagged "default".
func Default() *ClientCfg {
	return &ClientCfg{
		Log:       log.DefaultCfg(),
		NetLib:    &netlib.Config{},
		Handshake: &handshake.Config{},
		History:   &history.Config{},
		Plugin: map[string]any{
			"transport": map[string]any{
				"kcp": map[string]any{"tag": "default"},
			},
		},
	}
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (*ClientCfg, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result. Sections missing
// from data keep their defaults, except plugin which is replaced as a whole.
func Parse(data []byte) (*ClientCfg, error) {
	raw := make(map[interface{}]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	tree, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, errors.New("parse config: top level must be a mapping")
	}

	cfg := Default()
	if p, ok := tree["plugin"]; ok {
		pm, ok := p.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parse config: plugin section is %T, want a mapping", p)
		}
		cfg.Plugin = pm
		delete(tree, "plugin")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       levelHook,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(tree); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates every section, filling in defaults.
func (c *ClientCfg) Validate() error {
	for _, s := range c.sections() {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("config section %s: %w", s.GetName(), err)
		}
	}
	return nil
}

func (c *ClientCfg) sections() []Section {
	if c.Log == nil {
		c.Log = log.DefaultCfg()
	}
	if c.NetLib == nil {
		c.NetLib = &netlib.Config{}
	}
	if c.Handshake == nil {
		c.Handshake = &handshake.Config{}
	}
	if c.History == nil {
		c.History = &history.Config{}
	}
	return []Section{c.Log, c.NetLib, c.Handshake, c.History}
}

// normalize turns the map[interface{}]interface{} trees produced by yaml.v2
// into map[string]any so mapstructure and the plugin manager can use them.
func normalize(v any) any {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	}
	return v
}

var _levelType = reflect.TypeOf(log.Level(0))

// levelHook accepts level names such as "debug" for log.Level fields.
func levelHook(from, to reflect.Type, data any) (any, error) {
	if to != _levelType || from.Kind() != reflect.String {
		return data, nil
	}
	return log.ParseLevel(data.(string)), nil
}
