package push

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"duoxme-bridge/internal/model"
)

const mcsEndpoint = "mtalk.google.com:5228"

var _ Receiver = (*MCSReceiver)(nil)

// MCS protocol constants. The first byte of each direction is the protocol
// version, then a stream of (tag, varint size, payload) frames.
const (
	mcsVersion byte = 41

	tagHeartbeatPing     byte = 0
	tagHeartbeatAck      byte = 1
	tagLoginRequest      byte = 2
	tagLoginResponse     byte = 3
	tagClose             byte = 4
	tagIqStanza          byte = 7
	tagDataMessageStanza byte = 8
)

// DataMessageStanza field numbers the bridge reads.
const (
	dataFieldID           = 2
	dataFieldFrom         = 3
	dataFieldCategory     = 5
	dataFieldAppData      = 7
	dataFieldPersistentID = 9
)

// AppData field numbers.
const (
	appDataKey   = 1
	appDataValue = 2
)

// LoginRequest field numbers.
const (
	loginFieldID          = 1
	loginFieldDomain      = 2
	loginFieldUser        = 3
	loginFieldResource    = 4
	loginFieldAuthToken   = 5
	loginFieldDeviceID    = 6
	loginFieldSetting     = 8
	loginFieldAuthService = 16
)

const loginAuthServiceAndroidID = 2

// MCSReceiver holds one long-lived TLS connection to the push backend and
// turns inbound data stanzas into Messages. It satisfies Receiver; Close
// tears down the socket so a blocked Listen returns instead of dangling.
type MCSReceiver struct {
	creds    model.PushCredentials
	endpoint string
	dial     func(addr string) (net.Conn, error)

	mu     sync.Mutex
	conn   net.Conn
	closed atomic.Bool
}

func NewMCSReceiver(creds model.PushCredentials) *MCSReceiver {
	return &MCSReceiver{
		creds:    creds,
		endpoint: mcsEndpoint,
		dial: func(addr string) (net.Conn, error) {
			d := &net.Dialer{Timeout: 30 * time.Second}
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			return tls.DialWithDialer(d, "tcp", addr, &tls.Config{ServerName: host})
		},
	}
}

func (r *MCSReceiver) Listen(onMessage func(Message)) error {
	conn, err := r.dial(r.endpoint)
	if err != nil {
		return fmt.Errorf("dialing push backend: %w", err)
	}

	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		conn.Close()
		return nil
	}
	r.conn = conn
	r.mu.Unlock()

	if err := r.login(conn); err != nil {
		conn.Close()
		if r.closed.Load() {
			return nil
		}
		return err
	}

	br := bufio.NewReader(conn)
	version, err := br.ReadByte()
	if err != nil {
		return r.listenErr(fmt.Errorf("reading server version: %w", err))
	}
	if version != mcsVersion && version != 38 {
		return r.listenErr(fmt.Errorf("unexpected protocol version %d", version))
	}

	for {
		tag, err := br.ReadByte()
		if err != nil {
			return r.listenErr(fmt.Errorf("reading frame tag: %w", err))
		}
		size, err := readVarint(br)
		if err != nil {
			return r.listenErr(fmt.Errorf("reading frame size: %w", err))
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return r.listenErr(fmt.Errorf("reading frame payload: %w", err))
		}

		switch tag {
		case tagHeartbeatPing:
			r.writeFrame(conn, tagHeartbeatAck, nil)
		case tagHeartbeatAck, tagLoginResponse, tagIqStanza:
			// Nothing to do; the login response is informational and IQ
			// stanzas carry stream acks the bridge does not track.
		case tagClose:
			return r.listenErr(fmt.Errorf("server closed the stream"))
		case tagDataMessageStanza:
			msg, err := decodeDataStanza(payload)
			if err != nil {
				log.Printf("push: dropping undecodable stanza: %v", err)
				continue
			}
			onMessage(msg)
		default:
			log.Printf("push: ignoring frame tag %d (%d bytes)", tag, size)
		}
	}
}

func (r *MCSReceiver) listenErr(err error) error {
	if r.closed.Load() {
		return nil
	}
	return err
}

func (r *MCSReceiver) Close() error {
	r.closed.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *MCSReceiver) login(conn net.Conn) error {
	androidID := strconv.FormatInt(r.creds.AndroidID, 10)

	var setting []byte
	setting = appendStringField(setting, appDataKey, "new_vc")
	setting = appendStringField(setting, appDataValue, "1")

	var req []byte
	req = appendStringField(req, loginFieldID, "duoxme-bridge-1")
	req = appendStringField(req, loginFieldDomain, "mcs.android.com")
	req = appendStringField(req, loginFieldUser, androidID)
	req = appendStringField(req, loginFieldResource, androidID)
	req = appendStringField(req, loginFieldAuthToken, strconv.FormatInt(r.creds.SecurityToken, 10))
	req = appendStringField(req, loginFieldDeviceID, "android-"+strconv.FormatInt(r.creds.AndroidID, 16))
	req = appendBytesField(req, loginFieldSetting, setting)
	req = appendVarintField(req, loginFieldAuthService, loginAuthServiceAndroidID)

	if _, err := conn.Write([]byte{mcsVersion}); err != nil {
		return fmt.Errorf("writing version: %w", err)
	}
	if err := r.writeFrame(conn, tagLoginRequest, req); err != nil {
		return fmt.Errorf("writing login request: %w", err)
	}
	return nil
}

func (r *MCSReceiver) writeFrame(conn net.Conn, tag byte, payload []byte) error {
	frame := append([]byte{tag}, appendVarint(nil, uint64(len(payload)))...)
	frame = append(frame, payload...)
	_, err := conn.Write(frame)
	return err
}

// decodeDataStanza extracts the persistent id and the key/value payload
// from a DataMessageStanza frame.
func decodeDataStanza(payload []byte) (Message, error) {
	fields, err := parseFields(payload)
	if err != nil {
		return Message{}, err
	}

	msg := Message{Data: make(map[string]string)}
	for _, f := range fields {
		switch f.number {
		case dataFieldPersistentID:
			if f.wire == wireBytes {
				msg.PersistentID = string(f.raw)
			}
		case dataFieldAppData:
			if f.wire != wireBytes {
				continue
			}
			entry, err := parseFields(f.raw)
			if err != nil {
				continue
			}
			var key, value string
			for _, e := range entry {
				if e.wire != wireBytes {
					continue
				}
				switch e.number {
				case appDataKey:
					key = string(e.raw)
				case appDataValue:
					value = string(e.raw)
				}
			}
			if key != "" {
				msg.Data[key] = value
			}
		}
	}
	if msg.PersistentID == "" {
		return Message{}, fmt.Errorf("stanza missing persistent id")
	}
	return msg, nil
}
