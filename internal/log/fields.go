package log

// Field names shared by the api and relay logs.
const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	FieldUserID = "user_id"
	FieldRoomID = "room_id"
	FieldConnID = "conn_id"
	FieldEvent  = "event"
)
