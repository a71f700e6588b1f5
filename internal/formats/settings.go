package formats

import "strconv"

// Custom settings arrive as map[string]interface{} from config.json, so
// values may be strings, numbers, or bools depending on the producer.

func settingString(settings map[string]interface{}, key, fallback string) string {
	if settings == nil {
		return fallback
	}
	if v, ok := settings[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func settingBool(settings map[string]interface{}, key string, fallback bool) bool {
	if settings == nil {
		return fallback
	}
	switch v := settings[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func settingInt(settings map[string]interface{}, key string, fallback int) int {
	if settings == nil {
		return fallback
	}
	switch v := settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
