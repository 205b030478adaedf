package variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

const (
	HTTP_PORT_DEFAULT = "8080"
	HTTP_PORT_NAME    = "HTTP_PORT"

	BADGER_DIR_DEFAULT = "data/rooms"
	BADGER_DIR_NAME    = "BADGER_DIR"

	HEARTBEAT_INTERVAL_DEFAULT = "15s"
	HEARTBEAT_INTERVAL_NAME    = "HEARTBEAT_INTERVAL"

	HEARTBEAT_TIMEOUT_DEFAULT = "45s"
	HEARTBEAT_TIMEOUT_NAME    = "HEARTBEAT_TIMEOUT"

	OFFLINE_GRACE_DEFAULT = "30s"
	OFFLINE_GRACE_NAME    = "OFFLINE_GRACE"

	MESSAGE_WINDOW_DEFAULT = "50"
	MESSAGE_WINDOW_NAME    = "MESSAGE_WINDOW"

	GESTURE_TIMEOUT_DEFAULT = "3s"
	GESTURE_TIMEOUT_NAME    = "GESTURE_TIMEOUT"

	GESTURE_ENGINE_URL_DEFAULT = ""
	GESTURE_ENGINE_URL_NAME    = "GESTURE_ENGINE_URL"

	PROFILE_STORE_URL_DEFAULT = ""
	PROFILE_STORE_URL_NAME    = "PROFILE_STORE_URL"

	AUTH_JWKS_DEFAULT = ""
	AUTH_JWKS_NAME    = "AUTH_JWKS"

	AUTH_ISSUER_DEFAULT = "signbridge"
	AUTH_ISSUER_NAME    = "AUTH_ISSUER"

	STUN_URLS_DEFAULT = "stun:stun.l.google.com:19302"
	STUN_URLS_NAME    = "STUN_URLS"

	TURN_URL_DEFAULT = ""
	TURN_URL_NAME    = "TURN_URL"

	TURN_USERNAME_DEFAULT = ""
	TURN_USERNAME_NAME    = "TURN_USERNAME"

	TURN_CREDENTIAL_DEFAULT = ""
	TURN_CREDENTIAL_NAME    = "TURN_CREDENTIAL"
)

func Env(variableName, defaultValue string) string {
	if variable := os.Getenv(variableName); variable != "" {
		log.Printf("[%s]: %s", variableName, variable)
		return variable
	}
	log.Printf("[%s_DEFAULT]: %s", variableName, defaultValue)
	return defaultValue
}

func EnvInt(variableName, defaultValue string) int {
	value, err := strconv.Atoi(Env(variableName, defaultValue))
	if err != nil {
		fallback, _ := strconv.Atoi(defaultValue)
		log.Printf("[%s]: not an int, using default %s", variableName, defaultValue)
		return fallback
	}
	return value
}

func EnvDuration(variableName, defaultValue string) time.Duration {
	value, err := time.ParseDuration(Env(variableName, defaultValue))
	if err != nil {
		fallback, _ := time.ParseDuration(defaultValue)
		log.Printf("[%s]: not a duration, using default %s", variableName, defaultValue)
		return fallback
	}
	return value
}
