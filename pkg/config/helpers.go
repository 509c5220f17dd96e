package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// SetValue sets a configuration value by key
// Supported keys:
//   - models_dir: string - Root directory of the per-type model directories
//   - store_path: string - Path of the JSON record store
//   - download_preview: bool - Whether preview images are downloaded
//   - preview_max_size: int - Longest edge of stored previews in pixels
//   - http_timeout: duration - Dial and response header timeout
//   - user_agent: string - User agent sent by HTTP transports
//   - log_level: string - Logging level (debug, info, warn, error)
func (c *Config) SetValue(key, value string) error {
	switch key {
	case "models_dir":
		c.Settings.ModelsDir = value
	case "store_path":
		c.Settings.StorePath = value
	case "download_preview":
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %s", key, value)
		}
		c.Settings.DownloadPreview = &boolVal
	case "preview_max_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %s", key, value)
		}
		c.Settings.PreviewMaxSize = n
	case "http_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %s", key, value)
		}
		c.Settings.HTTPTimeout = d
	case "user_agent":
		c.Settings.UserAgent = value
	case "log_level":
		c.Settings.LogLevel = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// GetValue returns the value as a string and any error encountered.
func (c *Config) GetValue(key string) (string, error) {
	switch key {
	case "models_dir":
		return c.Settings.ModelsDir, nil
	case "store_path":
		return c.Settings.StorePath, nil
	case "download_preview":
		return strconv.FormatBool(c.PreviewEnabled()), nil
	case "preview_max_size":
		return strconv.Itoa(c.Settings.PreviewMaxSize), nil
	case "http_timeout":
		return c.Settings.HTTPTimeout.String(), nil
	case "user_agent":
		return c.Settings.UserAgent, nil
	case "log_level":
		return c.Settings.LogLevel, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// ToMap flattens the settings keyed by their YAML names.
// This is useful for displaying the configuration.
func (c *Config) ToMap() map[string]string {
	result := make(map[string]string)

	settingsValue := reflect.ValueOf(c.Settings)
	settingsType := settingsValue.Type()

	for i := 0; i < settingsValue.NumField(); i++ {
		field := settingsType.Field(i)
		yamlTag := field.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		// Handle yaml tags with options (e.g., "models_dir,omitempty")
		yamlKey := strings.Split(yamlTag, ",")[0]
		result[yamlKey] = formatValue(settingsValue.Field(i))
	}

	return result
}

func formatValue(v reflect.Value) string {
	if d, ok := v.Interface().(time.Duration); ok {
		return d.String()
	}
	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Pointer:
		if v.IsNil() {
			return "<nil>"
		}
		return formatValue(v.Elem())
	case reflect.String:
		return v.String()
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}
