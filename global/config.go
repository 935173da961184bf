package global

import (
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// shortNames maps the short option spellings onto AppConfig keys so a
// config file may use either.
var shortNames = map[string]string{
	"n":    "neighbour",
	"ut":   "userTimeout",
	"ht":   "holdTimeout",
	"mt":   "manageTimeout",
	"exip": "externalIp",
	"exp":  "externalPort",
	"inip": "internalIp",
	"inp":  "internalPort",
	"md":   "multiDeliver",
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		UserTimeout:   360,
		HoldTimeout:   120,
		ManageTimeout: 60,
		MultiDeliver:  10,
		ExternalPort:  8000,
		InternalPort:  8001,
		AssetsDir:     "./public",
		LogLevel:      "info",
	}
}

// LoadFile overlays the YAML file at path onto cfg. Missing keys keep
// their current value.
func LoadFile(path string, cfg *AppConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return Decode(m, cfg)
}

// Decode applies a loosely typed map (YAML, env, remote config) to cfg.
func Decode(m map[string]any, cfg *AppConfig) error {
	norm := make(map[string]any, len(m))
	for k, v := range m {
		if long, ok := shortNames[k]; ok {
			k = long
		}
		// neighbour may be a single string or a list
		if k == "neighbour" {
			if s, ok := v.(string); ok {
				v = splitList(s)
			}
		}
		norm[k] = v
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		ZeroFields:       true, // lists given later replace, not merge
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(dec.Decode(norm), "decode config")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
