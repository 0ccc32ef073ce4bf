package tgui

import "strings"

// Data formats inline callback data as "namespace:action:payload".
// Payload is kept as-is (no escaping).
func Data(namespace, action, payload string) string {
	namespace = strings.TrimSpace(namespace)
	action = strings.TrimSpace(action)
	if payload == "" {
		return namespace + ":" + action
	}
	return namespace + ":" + action + ":" + payload
}

// ParseData splits callback data built by Data. The payload may itself
// contain colons.
func ParseData(data string) (namespace, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}

// CheckData rejects callback data Telegram would refuse.
func CheckData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}
