package apns

// Gateway status codes carried in the error frame.
const (
	StatusOK                 byte = 0
	StatusProcessingError    byte = 1
	StatusMissingDeviceToken byte = 2
	StatusMissingTopic       byte = 3
	StatusMissingPayload     byte = 4
	StatusInvalidTokenSize   byte = 5
	StatusInvalidTopicSize   byte = 6
	StatusInvalidPayloadSize byte = 7
	StatusInvalidToken       byte = 8
	StatusShutdown           byte = 10

	// StatusUnknown is reported when the faulting notification was already
	// evicted from the transmission cache, or the gateway sent a code we do
	// not recognize.
	StatusUnknown byte = 255
)

var statusNames = map[byte]string{
	StatusOK:                 "no errors",
	StatusProcessingError:    "processing error",
	StatusMissingDeviceToken: "missing device token",
	StatusMissingTopic:       "missing topic",
	StatusMissingPayload:     "missing payload",
	StatusInvalidTokenSize:   "invalid token size",
	StatusInvalidTopicSize:   "invalid topic size",
	StatusInvalidPayloadSize: "invalid payload size",
	StatusInvalidToken:       "invalid token",
	StatusShutdown:           "shutdown",
	StatusUnknown:            "unknown",
}

// StatusName returns a human readable name for a gateway status code.
func StatusName(status byte) string {
	if s, ok := statusNames[status]; ok {
		return s
	}
	return "unrecognized"
}
