package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// keyKinds maps every settable dot path (e.g. "channels.telegram.token") to
// the kind of its field. It is derived from the json tags of Config.
var keyKinds = collectKeys(reflect.TypeOf(Config{}), "", map[string]reflect.Kind{})

func collectKeys(t reflect.Type, prefix string, out map[string]reflect.Kind) map[string]reflect.Kind {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, name, out)
			continue
		}
		out[name] = f.Type.Kind()
	}
	return out
}

// Sections returns the top-level config sections in file order.
func Sections() []string {
	t := reflect.TypeOf(Config{})
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		names = append(names, strings.SplitN(t.Field(i).Tag.Get("json"), ",", 2)[0])
	}
	return names
}

// isSection reports whether path names a struct (e.g. "channels.slack").
func isSection(path string) bool {
	for key := range keyKinds {
		if strings.HasPrefix(key, path+".") {
			return true
		}
	}
	return false
}

func unknownKey(path string) error {
	section := strings.SplitN(path, ".", 2)[0]
	for _, s := range Sections() {
		if s == section {
			return fmt.Errorf("unknown config key %q in section %q (see 'paychat config list --flat')", path, section)
		}
	}
	return fmt.Errorf("unknown config key %q (sections: %s)", path, strings.Join(Sections(), ", "))
}

// tree is the config as nested JSON objects keyed by json tag.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func zeroValue(k reflect.Kind) any {
	switch k {
	case reflect.Bool:
		return false
	case reflect.String:
		return ""
	default:
		return 0
	}
}

// GetByPath returns the value at a dot path such as "dispatch.delayMs". A
// section path returns the whole section. Unset optional keys read as their
// zero value.
func GetByPath(cfg *Config, path string) (any, error) {
	kind, leaf := keyKinds[path]
	if !leaf && !isSection(path) {
		return nil, unknownKey(path)
	}
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	if v, ok := lookup(m, path); ok {
		return v, nil
	}
	if leaf {
		return zeroValue(kind), nil
	}
	return map[string]any{}, nil
}

// SetByPath parses value according to the type of the key at path and stores
// it in cfg. Numeric strings stay strings for string keys, so chat ids such as
// dispatch.chatId keep their form.
func SetByPath(cfg *Config, path, value string) error {
	kind, ok := keyKinds[path]
	if !ok {
		if isSection(path) {
			return fmt.Errorf("%s is a section; set one of its keys", path)
		}
		return unknownKey(path)
	}

	var parsed any
	switch kind {
	case reflect.String:
		parsed = value
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", path, value)
		}
		parsed = b
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s expects an integer, got %q", path, value)
		}
		parsed = n
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s expects a number, got %q", path, value)
		}
		parsed = f
	default:
		return fmt.Errorf("%s cannot be set from the command line", path)
	}

	m, err := tree(cfg)
	if err != nil {
		return err
	}
	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, _ := parent[key].(map[string]any)
		if child == nil {
			child = map[string]any{}
			parent[key] = child
		}
		parent = child
	}
	parent[parts[len(parts)-1]] = parsed

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// secrets are masked by Sanitize.
func secrets(cfg *Config) []*string {
	return []*string{
		&cfg.Channels.Telegram.Token,
		&cfg.Channels.Slack.BotToken,
		&cfg.Channels.Discord.Token,
		&cfg.Channels.Webhook.Secret,
		&cfg.Gateway.KeySecret,
		&cfg.Server.RazorpayKeySecret,
		&cfg.Events.Redis.Password,
	}
}

// Sanitize returns a copy of the config with bot tokens, key secrets and
// passwords masked.
func Sanitize(cfg *Config) *Config {
	masked := *cfg
	for _, secret := range secrets(&masked) {
		if *secret != "" {
			*secret = maskString(*secret)
		}
	}
	return &masked
}

// maskString keeps the first and last 4 characters of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every settable key with its current value, including
// optional keys that are unset.
func ListPaths(cfg *Config) map[string]any {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	result := make(map[string]any, len(keyKinds))
	for path, kind := range keyKinds {
		if v, ok := lookup(m, path); ok {
			result[path] = v
		} else {
			result[path] = zeroValue(kind)
		}
	}
	return result
}
