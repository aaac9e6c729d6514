// Package wire defines the discriminated request and response messages carried
// over a datapath stream. The transport framing itself (gRPC, websocket, ...)
// is out of scope; a transport adapter decodes frames into these types and
// hands them to the servicer.
//
// A Request carries exactly one populated payload pointer; Kind reports which
// one. The same shape is used on the response side so a connection can be
// modeled as a bidirectional sequence of tagged unions rather than relying on
// runtime type inspection.
package wire

// Kind identifies which payload a Request carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindInit
	KindGet
	KindPut
	KindRelease
	KindConnectionInfo
	KindPrepRuntimeEnv
	KindConnectionCleanup
	KindAcknowledge
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindGet:
		return "get"
	case KindPut:
		return "put"
	case KindRelease:
		return "release"
	case KindConnectionInfo:
		return "connection_info"
	case KindPrepRuntimeEnv:
		return "prep_runtime_env"
	case KindConnectionCleanup:
		return "connection_cleanup"
	case KindAcknowledge:
		return "acknowledge"
	}
	return "unknown"
}

// Request is a client-originated datapath message. ReqID is assigned
// monotonically by the client within one connection epoch and is echoed back
// on the matching Response.
type Request struct {
	ReqID uint64

	Init              *InitRequest
	Get               *GetRequest
	Put               *PutRequest
	Release           *ReleaseRequest
	ConnectionInfo    *ConnectionInfoRequest
	PrepRuntimeEnv    *PrepRuntimeEnvRequest
	ConnectionCleanup *ConnectionCleanupRequest
	Acknowledge       *AcknowledgeRequest
}

// Kind returns the discriminator for the populated payload, or KindUnknown if
// no payload is set.
func (r *Request) Kind() Kind {
	switch {
	case r.Init != nil:
		return KindInit
	case r.Get != nil:
		return KindGet
	case r.Put != nil:
		return KindPut
	case r.Release != nil:
		return KindRelease
	case r.ConnectionInfo != nil:
		return KindConnectionInfo
	case r.PrepRuntimeEnv != nil:
		return KindPrepRuntimeEnv
	case r.ConnectionCleanup != nil:
		return KindConnectionCleanup
	case r.Acknowledge != nil:
		return KindAcknowledge
	}
	return KindUnknown
}

// Response is a server-originated datapath message. Acknowledge requests
// produce no response, so there is no acknowledge payload here.
type Response struct {
	ReqID uint64

	Init              *InitResponse
	Get               *GetResponse
	Put               *PutResponse
	Release           *ReleaseResponse
	ConnectionInfo    *ConnectionInfoResponse
	PrepRuntimeEnv    *PrepRuntimeEnvResponse
	ConnectionCleanup *ConnectionCleanupResponse
}

// InitRequest establishes the session parameters for a client. A zero
// reconnect grace period disables reconnection and response caching for the
// lifetime of the session.
type InitRequest struct {
	JobConfig                   []byte
	ReconnectGracePeriodSeconds int32
}

type InitResponse struct {
	OK  bool
	Msg string
}

// GetRequest reads an object by id. When Asynchronous is set the response may
// be deferred and delivered later, correlated by ReqID.
type GetRequest struct {
	ID           string
	Asynchronous bool
}

// GetResponse carries the object data, or an application-level error when
// Valid is false. Application errors ride inside the payload so the client
// can distinguish them from session failures.
type GetResponse struct {
	Valid bool
	Data  []byte
	Error string
}

type PutRequest struct {
	Data []byte
}

type PutResponse struct {
	ID    string
	Valid bool
	Error string
}

// ReleaseRequest drops the client's references to one or more object ids.
type ReleaseRequest struct {
	IDs []string
}

// ReleaseResponse reports per-id success, index-aligned with the request.
type ReleaseResponse struct {
	OK []bool
}

type ConnectionInfoRequest struct{}

// ConnectionInfoResponse lets clients validate compatibility before issuing
// data requests.
type ConnectionInfoResponse struct {
	NumClients      int
	RuntimeVersion  string
	ServerVersion   string
	ProtocolVersion string
}

type PrepRuntimeEnvRequest struct {
	SerializedRuntimeEnv string
}

type PrepRuntimeEnvResponse struct{}

type ConnectionCleanupRequest struct{}

type ConnectionCleanupResponse struct{}

// AcknowledgeRequest confirms receipt of every response with id <= ReqID,
// allowing the server to drop them from its replay cache.
type AcknowledgeRequest struct {
	ReqID uint64
}
