package transport

import "strconv"

// DisconnectReason is the numeric close reason reported by the gateway.
// The values follow the gateway's HTTP-style status codes.
type DisconnectReason int

const (
	// ReasonUnknown is used when the gateway gave no reason.
	ReasonUnknown DisconnectReason = 0

	// ReasonLoggedOut means the account revoked this device.
	ReasonLoggedOut DisconnectReason = 401

	// ReasonForbidden means the account is banned or the device was rejected.
	ReasonForbidden DisconnectReason = 403

	// ReasonConnectionLost means the socket timed out. The gateway reports
	// both lost connections and handshake timeouts with this code.
	ReasonConnectionLost DisconnectReason = 408

	// ReasonMultideviceMismatch means the stored credentials belong to an
	// incompatible device generation.
	ReasonMultideviceMismatch DisconnectReason = 411

	// ReasonConnectionClosed means the server closed the stream.
	ReasonConnectionClosed DisconnectReason = 428

	// ReasonConnectionReplaced means another connection with the same
	// credentials was opened elsewhere.
	ReasonConnectionReplaced DisconnectReason = 440

	// ReasonBadSession means the stored credentials are corrupt.
	ReasonBadSession DisconnectReason = 500

	// ReasonUnavailableService means the gateway is temporarily down.
	ReasonUnavailableService DisconnectReason = 503

	// ReasonRestartRequired is sent right after pairing; the connection must
	// be reopened with the upgraded credentials.
	ReasonRestartRequired DisconnectReason = 515
)

// ReasonTimedOut is an alias of ReasonConnectionLost.
const ReasonTimedOut = ReasonConnectionLost

// DocumentedReasons lists every reason code the gateway documents.
func DocumentedReasons() []DisconnectReason {
	return []DisconnectReason{
		ReasonLoggedOut,
		ReasonForbidden,
		ReasonConnectionLost,
		ReasonMultideviceMismatch,
		ReasonConnectionClosed,
		ReasonConnectionReplaced,
		ReasonBadSession,
		ReasonUnavailableService,
		ReasonRestartRequired,
	}
}

// String returns a snake_case name used in logs and removal reason codes.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonForbidden:
		return "forbidden"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonMultideviceMismatch:
		return "multidevice_mismatch"
	case ReasonConnectionClosed:
		return "connection_closed"
	case ReasonConnectionReplaced:
		return "connection_replaced"
	case ReasonBadSession:
		return "bad_session"
	case ReasonUnavailableService:
		return "unavailable_service"
	case ReasonRestartRequired:
		return "restart_required"
	case ReasonUnknown:
		return "unknown"
	default:
		return "code_" + strconv.Itoa(int(r))
	}
}
